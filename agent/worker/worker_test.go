package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingExecutor 记录执行顺序
type recordingExecutor struct {
	mu    sync.Mutex
	order []string
	calls atomic.Int32
}

func (r *recordingExecutor) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.order = append(r.order, action)
	r.mu.Unlock()

	switch action {
	case "fail":
		return nil, errors.New("action failed")
	case "panic":
		panic("kaboom")
	case "slow":
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}
	return "done:" + action, nil
}

func (r *recordingExecutor) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func newTestWorker(t *testing.T, exec ActionExecutor) *Worker {
	t.Helper()
	w := New(Config{
		ID:           "w-test",
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  time.Second,
	}, exec, zap.NewNop())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func collect(n int) (func(WorkerResult), func(t *testing.T) []WorkerResult) {
	ch := make(chan WorkerResult, n)
	cb := func(r WorkerResult) { ch <- r }
	wait := func(t *testing.T) []WorkerResult {
		t.Helper()
		out := make([]WorkerResult, 0, n)
		for len(out) < n {
			select {
			case r := <-ch:
				out = append(out, r)
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for results, got %d of %d", len(out), n)
			}
		}
		return out
	}
	return cb, wait
}

func TestWorker_ExecutesByPriority(t *testing.T) {
	t.Parallel()
	exec := &recordingExecutor{}
	w := newTestWorker(t, exec)
	cb, wait := collect(3)

	require.True(t, w.SubmitTask(NewTask("p3", nil, WithPriority(3), WithCallback(cb))))
	require.True(t, w.SubmitTask(NewTask("p1", nil, WithPriority(1), WithCallback(cb))))
	require.True(t, w.SubmitTask(NewTask("p2", nil, WithPriority(2), WithCallback(cb))))

	w.Start()
	wait(t)

	assert.Equal(t, []string{"p1", "p2", "p3"}, exec.Order())
}

func TestWorker_PanickingActionFailsTask(t *testing.T) {
	t.Parallel()
	w := newTestWorker(t, &recordingExecutor{})
	cb, wait := collect(1)

	w.Start()
	require.True(t, w.SubmitTask(NewTask("panic", nil, WithCallback(cb))))
	results := wait(t)

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "kaboom")
	assert.Equal(t, "w-test", results[0].WorkerID)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.TasksFailed)
	assert.Equal(t, int64(0), stats.TasksCompleted)

	// 循环仍然存活
	cb2, wait2 := collect(1)
	require.True(t, w.SubmitTask(NewTask("ok", nil, WithCallback(cb2))))
	assert.True(t, wait2(t)[0].Success)
}

func TestWorker_ErrorReturnFailsTask(t *testing.T) {
	t.Parallel()
	w := newTestWorker(t, &recordingExecutor{})
	cb, wait := collect(2)

	w.Start()
	w.SubmitTask(NewTask("fail", nil, WithCallback(cb)))
	w.SubmitTask(NewTask("ok", nil, WithCallback(cb)))
	wait(t)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.TasksCompleted)
	assert.Equal(t, int64(1), stats.TasksFailed)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
}

func TestWorker_TaskTimeout(t *testing.T) {
	t.Parallel()
	w := newTestWorker(t, &recordingExecutor{})
	cb, wait := collect(1)

	w.Start()
	w.SubmitTask(NewTask("slow", nil, WithTimeout(20*time.Millisecond), WithCallback(cb)))
	r := wait(t)[0]

	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "timed out")
}

func TestWorker_StopRejectsSubmissions(t *testing.T) {
	t.Parallel()
	exec := &recordingExecutor{}
	w := newTestWorker(t, exec)
	w.Start()

	require.NoError(t, w.Stop())
	assert.Equal(t, StateStopped, w.State())
	assert.False(t, w.SubmitTask(NewTask("late", nil)))
	assert.Equal(t, int32(0), exec.calls.Load())
}

func TestWorker_StopWithoutStart(t *testing.T) {
	t.Parallel()
	w := New(Config{ID: "never-started"}, &recordingExecutor{}, nil)
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestWorker_PauseAndResume(t *testing.T) {
	t.Parallel()
	exec := &recordingExecutor{}
	w := newTestWorker(t, exec)
	cb, wait := collect(1)

	w.Pause()
	w.Start()
	require.True(t, w.SubmitTask(NewTask("held", nil, WithCallback(cb))))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), exec.calls.Load())
	assert.Equal(t, StatePaused, w.State())

	w.Resume()
	wait(t)
	assert.Equal(t, int32(1), exec.calls.Load())
}

func TestWorker_PauseWhileWaitingForWork(t *testing.T) {
	t.Parallel()
	exec := &recordingExecutor{}
	w := New(Config{
		ID:           "w-blocked",
		PollInterval: time.Second,
		StopTimeout:  2 * time.Second,
	}, exec, zap.NewNop())
	t.Cleanup(func() { _ = w.Stop() })
	cb, wait := collect(2)

	w.Start()
	time.Sleep(50 * time.Millisecond)
	w.Pause()
	require.True(t, w.SubmitTask(NewTask("first", nil, WithPriority(2), WithCallback(cb))))
	require.True(t, w.SubmitTask(NewTask("second", nil, WithPriority(2), WithCallback(cb))))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), exec.calls.Load())
	assert.Equal(t, StatePaused, w.State())
	assert.Equal(t, 2, w.QueueSize())

	w.Resume()
	wait(t)
	assert.Equal(t, []string{"first", "second"}, exec.Order(), "a task put back keeps its place")
}

func TestWorker_PauseDuringTaskLetsItFinish(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int32
	w := newTestWorker(t, ExecutorFunc(func(ctx context.Context, action string, params map[string]any) (any, error) {
		calls.Add(1)
		if action == "block" {
			started <- struct{}{}
			<-release
		}
		return action, nil
	}))
	cb, wait := collect(1)

	w.Start()
	require.True(t, w.SubmitTask(NewTask("block", nil, WithCallback(cb))))
	<-started
	w.Pause()
	require.True(t, w.SubmitTask(NewTask("next", nil)))
	close(release)

	res := wait(t)
	assert.True(t, res[0].Success)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StatePaused, w.State())
	assert.Equal(t, 1, w.QueueSize())
}

func TestWorker_StopDuringTaskFinishesItAndDequeuesNothing(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int32
	w := New(Config{
		ID:           "w-stop",
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	}, ExecutorFunc(func(ctx context.Context, action string, params map[string]any) (any, error) {
		calls.Add(1)
		if action == "block" {
			started <- struct{}{}
			<-release
		}
		return action, nil
	}), zap.NewNop())
	cb, wait := collect(1)

	w.Start()
	require.True(t, w.SubmitTask(NewTask("block", nil, WithCallback(cb))))
	require.True(t, w.SubmitTask(NewTask("queued", nil)))
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop() }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	res := wait(t)
	assert.True(t, res[0].Success)
	require.NoError(t, <-stopped)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, w.QueueSize())
	assert.Equal(t, int64(1), w.Stats().TasksCompleted)
	assert.False(t, w.SubmitTask(NewTask("late", nil)))
}

func TestWorker_DrainAfterStopClosesQueue(t *testing.T) {
	t.Parallel()
	w := New(Config{ID: "w-drain"}, &recordingExecutor{}, nil)
	require.True(t, w.SubmitTask(NewTask("a", nil)))
	require.NoError(t, w.Stop())

	drained := w.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, "a", drained[0].Action)
	assert.False(t, w.queue.Push(NewTask("b", nil)))
	assert.Equal(t, 0, w.QueueSize())
}

func TestWorker_ErrorStateSelfHeals(t *testing.T) {
	t.Parallel()
	w := newTestWorker(t, &recordingExecutor{})
	w.Start()

	require.True(t, w.SubmitTask(NewTask("ok", nil, WithCallback(func(WorkerResult) {
		panic("callback bug")
	}))))

	assert.Eventually(t, func() bool {
		return w.Stats().TasksCompleted == 1 && w.State() == StateIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorker_HasCapability(t *testing.T) {
	t.Parallel()

	general := New(Config{ID: "g"}, &recordingExecutor{}, nil)
	assert.True(t, general.HasCapability("anything"))

	special := New(Config{ID: "s", Capabilities: []string{"python"}}, &recordingExecutor{}, nil)
	assert.True(t, special.HasCapability("python"))
	assert.False(t, special.HasCapability("rust"))
}

func TestWorker_StatsDefaults(t *testing.T) {
	t.Parallel()
	w := New(Config{ID: "fresh"}, &recordingExecutor{}, nil)
	s := w.Stats()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, 1.0, s.SuccessRate)
	assert.Equal(t, []string{CapabilityGeneral}, s.Capabilities)
}

func TestExecutorFunc(t *testing.T) {
	t.Parallel()
	var f ActionExecutor = ExecutorFunc(func(ctx context.Context, action string, params map[string]any) (any, error) {
		return params["x"], nil
	})
	out, err := f.Execute(context.Background(), "a", map[string]any{"x": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestWorker_ExecutorContextCarriesIDs(t *testing.T) {
	t.Parallel()

	exec := ExecutorFunc(func(ctx context.Context, action string, params map[string]any) (any, error) {
		taskID, _ := ctxkeys.TaskID(ctx)
		workerID, _ := ctxkeys.WorkerID(ctx)
		return taskID + "@" + workerID, nil
	})
	w := newTestWorker(t, exec)
	w.Start()

	cb, wait := collect(1)
	require.True(t, w.SubmitTask(NewTask("ids", nil, WithTaskID("task-42"), WithCallback(cb))))

	res := wait(t)[0]
	require.True(t, res.Success)
	assert.Equal(t, "task-42@w-test", res.Output)
}
