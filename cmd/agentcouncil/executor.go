package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/BaSui01/agentcouncil/agent/council"
	"github.com/BaSui01/agentcouncil/agent/worker"
	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/BaSui01/agentcouncil/types"
	"go.uber.org/zap"
)

// 工作池内置动作
const (
	actionEcho     = "echo"
	actionGenerate = "generate"
	actionReview   = "review"
	actionSecurity = "security"
	actionVerify   = "verify"
)

// modelExecutor runs pool actions against the model backend. Council-backed
// actions fail until bind is called.
type modelExecutor struct {
	gen          council.Generator
	defaultModel string
	council      atomic.Pointer[council.Council]
	logger       *zap.Logger
}

func newModelExecutor(gen council.Generator, defaultModel string, logger *zap.Logger) *modelExecutor {
	return &modelExecutor{
		gen:          gen,
		defaultModel: defaultModel,
		logger:       logger.With(zap.String("component", "executor")),
	}
}

func (e *modelExecutor) bind(c *council.Council) {
	e.council.Store(c)
}

// Execute 实现 worker.ActionExecutor
func (e *modelExecutor) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	switch action {
	case actionEcho:
		if msg, ok := params["message"]; ok {
			return msg, nil
		}
		return params, nil

	case actionGenerate:
		prompt := stringParam(params, "prompt")
		if prompt == "" {
			return nil, types.NewError(types.ErrInvalidMessage, "generate needs a prompt")
		}
		model := stringParam(params, "model")
		if model == "" {
			model = e.defaultModel
		}
		if model == "" {
			return nil, types.NewError(types.ErrModelUnavailable, "no model given and no default configured")
		}
		return e.gen.Generate(ctx, council.GenerateRequest{
			Model:  model,
			Prompt: prompt,
			System: stringParam(params, "system"),
		})

	case actionReview, actionSecurity, actionVerify:
		c := e.council.Load()
		if c == nil {
			return nil, types.NewError(types.ErrInternalError, "council not ready")
		}
		promptContext := map[string]string{}
		if task, ok := ctxkeys.TaskID(ctx); ok {
			promptContext["task_id"] = task
		}

		var result *council.ConsensusResult
		switch action {
		case actionReview:
			result = c.ReviewCode(ctx, stringParam(params, "code"), stringParam(params, "language"), promptContext)
		case actionSecurity:
			result = c.CheckSecurity(ctx, stringParam(params, "code"), promptContext)
		default:
			result = c.VerifyOutput(ctx, stringParam(params, "task"), stringParam(params, "output"), promptContext)
		}
		e.logger.Debug("council action finished",
			zap.String("action", action),
			zap.Bool("approved", result.Approved),
		)
		return result, nil
	}
	return nil, types.Errorf(types.ErrActionFailed, "unknown action %q", action)
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

var _ worker.ActionExecutor = (*modelExecutor)(nil)
