package agentcouncil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentcouncil/agent/council"
	"github.com/BaSui01/agentcouncil/agent/orchestrator"
	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/agent/protocol"
	"github.com/BaSui01/agentcouncil/config"
	"github.com/BaSui01/agentcouncil/testutil"
	"github.com/BaSui01/agentcouncil/testutil/fixtures"
	"github.com/BaSui01/agentcouncil/testutil/mocks"
	"github.com/BaSui01/agentcouncil/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Pool.MinWorkers = 2
	cfg.Pool.MaxWorkers = 2
	cfg.Pool.PollInterval = 10 * time.Millisecond
	cfg.Pool.StopTimeout = time.Second
	cfg.Orchestrator.MaxRetries = 1
	cfg.Council.Timeout = time.Second
	cfg.Council.CollectionGrace = 100 * time.Millisecond
	cfg.Council.RoundsPerMinute = 0
	return cfg
}

type outcomes struct {
	mu        sync.Mutex
	completed map[string]any
	failed    map[string]error
	escalated map[string][]string
}

func newOutcomes() *outcomes {
	return &outcomes{
		completed: make(map[string]any),
		failed:    make(map[string]error),
		escalated: make(map[string][]string),
	}
}

func (o *outcomes) callbacks() orchestrator.Callbacks {
	return orchestrator.Callbacks{
		OnComplete: func(id string, out any) {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.completed[id] = out
		},
		OnError: func(id string, err error) {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.failed[id] = err
		},
		OnEscalate: func(id string, errs []string) {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.escalated[id] = errs
		},
	}
}

func (o *outcomes) done(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, c := o.completed[id]
	_, f := o.failed[id]
	_, e := o.escalated[id]
	return c || f || e
}

func startSystem(t *testing.T, cfg *config.Config, opts ...Option) *System {
	t.Helper()
	sys, err := New(cfg, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, sys.Start(testutil.TestContext(t)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.Close(ctx)
	})
	return sys
}

func TestNew_RequiresExecutor(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig())
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Pool.MinWorkers = 5
	_, err := New(cfg, WithExecutor(mocks.NewFuncExecutor()))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestSystem_Start(t *testing.T) {
	t.Parallel()

	sys := startSystem(t, testConfig(),
		WithExecutor(mocks.NewFuncExecutor()),
		WithModels(mocks.NewScriptedGenerator(), mocks.NewStaticRegistry("a:7b")),
	)

	assert.Equal(t, "supervisor", sys.Orchestrator.Supervisor())
	_, ok := sys.Orchestrator.Agent("operator")
	assert.True(t, ok)
	assert.Equal(t, 2, sys.Pool.Size())

	// 重复启动无副作用
	require.NoError(t, sys.Start(context.Background()))

	st := sys.Status()
	assert.Equal(t, Version, st.Version)
	assert.Len(t, st.Orchestrator.Agents, 2)
	assert.Equal(t, 2, st.Pool.TotalWorkers)
	assert.Equal(t, council.StrategyMajority, st.Strategy)
}

func TestSystem_TaskLifecycle(t *testing.T) {
	t.Parallel()

	exec := mocks.NewFuncExecutor().
		Returns("lint", "clean").
		Returns("flaky", "ok").
		FailTimes("flaky", 1)
	out := newOutcomes()
	sys := startSystem(t, testConfig(),
		WithExecutor(exec),
		WithModels(mocks.NewScriptedGenerator(), mocks.NewStaticRegistry()),
		WithCallbacks(out.callbacks()),
	)
	ctx := testutil.TestContext(t)

	lint, err := sys.Orchestrator.SubmitTask(ctx, "lint", map[string]any{"path": "./..."})
	require.NoError(t, err)
	flaky, err := sys.Orchestrator.SubmitTask(ctx, "flaky", nil)
	require.NoError(t, err)
	broken, err := sys.Orchestrator.SubmitTask(ctx, "missing", nil)
	require.NoError(t, err)

	for _, id := range []string{lint, flaky, broken} {
		id := id
		require.Eventually(t, func() bool { return out.done(id) }, 5*time.Second, 10*time.Millisecond, id)
	}

	out.mu.Lock()
	assert.Equal(t, "clean", out.completed[lint])
	assert.Equal(t, "ok", out.completed[flaky])
	// 重试用尽后升级给监督者
	require.Contains(t, out.escalated, broken)
	assert.Len(t, out.escalated[broken], 2)
	out.mu.Unlock()

	assert.Equal(t, 2, exec.CallCount("flaky"))
	assert.Equal(t, 2, exec.CallCount("missing"))

	info, ok := sys.Orchestrator.TaskStatus(ctx, lint)
	require.True(t, ok)
	assert.Equal(t, persistence.TaskStatusCompleted, info.Status)

	st := sys.Status()
	assert.Equal(t, 0, st.Orchestrator.Active)
	assert.Equal(t, 2, st.Orchestrator.Completed)
	assert.Equal(t, 1, st.Orchestrator.Escalated)

	rescues := sys.Protocol.MessageLog(protocol.LogFilter{Type: protocol.MessageRescueRequest}, 0)
	require.Len(t, rescues, 1)
	assert.Equal(t, "supervisor", rescues[0].Receiver)
}

func TestSystem_CouncilOverProtocol(t *testing.T) {
	t.Parallel()

	gen := mocks.NewScriptedGenerator().
		WithReply("a:7b", fixtures.ApproveReply(0.9)).
		WithReply("b:8b", fixtures.FencedReply("approve", 0.7)).
		WithReply("c:7b", fixtures.RejectReply(0.6, "missing tests"))
	sys := startSystem(t, testConfig(),
		WithExecutor(mocks.NewFuncExecutor()),
		WithModels(gen, mocks.NewStaticRegistry("a:7b", "b:8b", "c:7b", "huge:70b")),
	)

	result, err := sys.CouncilBridge.RequestVote(testutil.TestContext(t), "tester",
		"Should we merge?", council.TaskReview, map[string]string{"branch": "main"}, 5*time.Second)
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.Equal(t, 2, result.VoteCount["approve"])
	assert.Equal(t, 1, result.VoteCount["reject"])
	assert.Contains(t, result.Issues, "missing tests")
	assert.Equal(t, []string{"a:7b", "b:8b", "c:7b"}, gen.CalledModels())
	assert.Equal(t, 0, sys.Protocol.PendingCount())
}

func TestSystem_OpsServer(t *testing.T) {
	t.Parallel()

	registry := mocks.NewStaticRegistry("a:7b")
	sys := startSystem(t, testConfig(),
		WithExecutor(mocks.NewFuncExecutor()),
		WithModels(mocks.NewScriptedGenerator(), registry),
	)

	srv := httptest.NewServer(sys.OpsHandler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, "supervisor", st.Orchestrator.Supervisor)

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	registry.SetError(mocks.ErrRegistryDown)
	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "agentcouncil_")
}

func TestSystem_MetricsDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.Store.MessageStore = persistence.StoreTypeNone
	cfg.Store.TaskStore = persistence.StoreTypeNone
	sys := startSystem(t, cfg,
		WithExecutor(mocks.NewFuncExecutor().Returns("noop", nil)),
		WithModels(mocks.NewScriptedGenerator(), mocks.NewStaticRegistry()),
	)

	assert.Nil(t, sys.Metrics)
	assert.Nil(t, sys.Registry)

	id, err := sys.Orchestrator.SubmitTask(context.Background(), "noop", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, ok := sys.Orchestrator.TaskStatus(context.Background(), id)
		return ok && info.Status == persistence.TaskStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSystem_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sys, err := New(testConfig(),
		WithExecutor(mocks.NewFuncExecutor()),
		WithModels(mocks.NewScriptedGenerator(), mocks.NewStaticRegistry()),
	)
	require.NoError(t, err)
	require.NoError(t, sys.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sys.Close(ctx))
	require.NoError(t, sys.Close(ctx))

	err = sys.Start(context.Background())
	assert.Error(t, err)
}
