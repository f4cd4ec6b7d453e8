package main

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/agentcouncil/agent/council"
	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/BaSui01/agentcouncil/testutil/fixtures"
	"github.com/BaSui01/agentcouncil/testutil/mocks"
	"github.com/BaSui01/agentcouncil/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestModelExecutor_Echo(t *testing.T) {
	t.Parallel()

	e := newModelExecutor(mocks.NewScriptedGenerator(), "", zap.NewNop())

	out, err := e.Execute(context.Background(), actionEcho, map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	params := map[string]any{"n": 1}
	out, err = e.Execute(context.Background(), actionEcho, params)
	require.NoError(t, err)
	assert.Equal(t, params, out)
}

func TestModelExecutor_Generate(t *testing.T) {
	t.Parallel()

	gen := mocks.NewScriptedGenerator().
		WithReply("llama3:8b", "default answer").
		WithReply("qwen:7b", "picked answer")
	e := newModelExecutor(gen, "llama3:8b", zap.NewNop())

	out, err := e.Execute(context.Background(), actionGenerate, map[string]any{"prompt": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "default answer", out)

	out, err = e.Execute(context.Background(), actionGenerate, map[string]any{"prompt": "hello", "model": "qwen:7b", "system": "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "picked answer", out)

	calls := gen.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "be brief", calls[1].System)
}

func TestModelExecutor_GenerateErrors(t *testing.T) {
	t.Parallel()

	down := errors.New("backend down")
	e := newModelExecutor(mocks.NewScriptedGenerator().WithError("m", down), "", zap.NewNop())

	_, err := e.Execute(context.Background(), actionGenerate, nil)
	assert.Equal(t, types.ErrInvalidMessage, types.GetErrorCode(err))

	_, err = e.Execute(context.Background(), actionGenerate, map[string]any{"prompt": "x"})
	assert.Equal(t, types.ErrModelUnavailable, types.GetErrorCode(err))

	_, err = e.Execute(context.Background(), actionGenerate, map[string]any{"prompt": "x", "model": "m"})
	assert.ErrorIs(t, err, down)
}

func TestModelExecutor_CouncilActions(t *testing.T) {
	t.Parallel()

	gen := mocks.NewScriptedGenerator().
		WithReply("a:7b", fixtures.ApproveReply(0.9)).
		WithReply("b:7b", fixtures.RejectReply(0.8, "sql injection"))
	e := newModelExecutor(gen, "", zap.NewNop())

	_, err := e.Execute(context.Background(), actionReview, map[string]any{"code": "x"})
	assert.Equal(t, types.ErrInternalError, types.GetErrorCode(err))

	cfg := council.DefaultConfig()
	cfg.Strategy = council.StrategyUnanimous
	c, err := council.New(cfg, gen, mocks.NewStaticRegistry("a:7b", "b:7b"), zap.NewNop())
	require.NoError(t, err)
	e.bind(c)

	ctx := ctxkeys.WithTaskID(context.Background(), "task-1")
	for _, action := range []string{actionReview, actionSecurity, actionVerify} {
		out, err := e.Execute(ctx, action, map[string]any{
			"code": "db.Query(input)", "language": "go", "task": "t", "output": "o",
		})
		require.NoError(t, err, action)
		result, ok := out.(*council.ConsensusResult)
		require.True(t, ok, action)
		assert.False(t, result.Approved, action)
		assert.Contains(t, result.Issues, "sql injection", action)
	}

	for _, call := range gen.Calls() {
		assert.Contains(t, call.Prompt, "task-1")
	}
}

func TestModelExecutor_UnknownAction(t *testing.T) {
	t.Parallel()

	e := newModelExecutor(mocks.NewScriptedGenerator(), "", zap.NewNop())
	_, err := e.Execute(context.Background(), "deploy", nil)
	assert.Equal(t, types.ErrActionFailed, types.GetErrorCode(err))
}

func TestStringParam(t *testing.T) {
	t.Parallel()

	params := map[string]any{"s": "x", "n": 3, "nil": nil}
	assert.Equal(t, "x", stringParam(params, "s"))
	assert.Equal(t, "3", stringParam(params, "n"))
	assert.Equal(t, "", stringParam(params, "nil"))
	assert.Equal(t, "", stringParam(params, "missing"))
	assert.Equal(t, "", stringParam(nil, "s"))
}
