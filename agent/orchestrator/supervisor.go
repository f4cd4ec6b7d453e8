package orchestrator

import (
	"context"
	"time"

	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/types"
	"go.uber.org/zap"
)

// Step 计划中的一个步骤
type Step struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Description  string         `json:"description,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	// Critical stops the plan when this step fails.
	Critical bool `json:"critical,omitempty"`
}

// StepResult 步骤执行结果
type StepResult struct {
	StepID   string        `json:"step_id"`
	AgentID  string        `json:"agent_id"`
	Success  bool          `json:"success"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// PlanResult 计划执行结果
type PlanResult struct {
	Goal     string        `json:"goal"`
	Steps    []StepResult  `json:"steps"`
	Success  bool          `json:"success"`
	Aborted  bool          `json:"aborted"`
	Duration time.Duration `json:"duration"`
}

// Planner turns a goal into ordered steps. It is usually backed by the
// supervisor model.
type Planner interface {
	Plan(ctx context.Context, goal string) ([]Step, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, goal string) ([]Step, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, goal string) ([]Step, error) {
	return f(ctx, goal)
}

// StepExecutor runs one step on the chosen agent and blocks until it is done.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, agent AgentInfo, step Step) StepResult
}

// StepExecutorFunc adapts a function to StepExecutor.
type StepExecutorFunc func(ctx context.Context, agent AgentInfo, step Step) StepResult

// ExecuteStep implements StepExecutor.
func (f StepExecutorFunc) ExecuteStep(ctx context.Context, agent AgentInfo, step Step) StepResult {
	return f(ctx, agent, step)
}

// ExecuteWithSupervisor plans goal and runs the steps in order, each on the
// best operator for its capabilities or on the supervisor when none
// qualifies. A failed critical step stops the plan. Success is the AND of
// every step result.
//
// Errors are returned only for setup problems: no supervisor, or a planner
// failure.
func (o *Orchestrator) ExecuteWithSupervisor(ctx context.Context, goal string, planner Planner, executor StepExecutor) (result *PlanResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.execute_with_supervisor")
	defer func() { telemetry.EndSpan(span, err) }()

	if planner == nil || executor == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "planner and step executor are required")
	}
	if o.Supervisor() == "" {
		return nil, types.NewError(types.ErrNoSupervisor, "no supervisor registered")
	}

	start := time.Now()
	steps, err := planner.Plan(ctx, goal)
	if err != nil {
		return nil, types.NewError(types.ErrPlanFailed, "supervisor planning failed").WithCause(err)
	}
	span.SetAttributes(telemetry.AttrSteps.Int(len(steps)))
	o.logger.Info("plan ready", zap.String("goal", goal), zap.Int("steps", len(steps)))

	result = &PlanResult{Goal: goal, Success: true, Steps: make([]StepResult, 0, len(steps))}
	for i, step := range steps {
		if ctx.Err() != nil {
			result.Success = false
			result.Aborted = true
			break
		}

		sr := o.runStep(ctx, step, executor)
		result.Steps = append(result.Steps, sr)
		result.Success = result.Success && sr.Success

		if cb := o.callbacks.OnProgress; cb != nil {
			cb(step.ID, float64(i+1)/float64(len(steps)), sr.Output)
		}

		if !sr.Success {
			o.logger.Warn("plan step failed",
				zap.String("step_id", step.ID),
				zap.String("agent_id", sr.AgentID),
				zap.Bool("critical", step.Critical),
				zap.String("error", sr.Error),
			)
			if step.Critical {
				result.Aborted = true
				break
			}
		}
	}
	result.Duration = time.Since(start)

	// 步骤占用的 Agent 已释放，排队任务可以继续
	var e effects
	o.mu.Lock()
	o.drainLocked(&e)
	o.mu.Unlock()
	o.apply(ctx, &e)

	return result, nil
}

// runStep reserves a slot on the chosen agent for the step's duration.
func (o *Orchestrator) runStep(ctx context.Context, step Step, executor StepExecutor) StepResult {
	o.mu.Lock()
	agent := o.bestOperatorLocked(step.Capabilities, true)
	if agent == nil {
		agent = o.agents[o.supervisor]
	}
	if agent == nil {
		o.mu.Unlock()
		return StepResult{StepID: step.ID, Success: false, Error: "no agent available"}
	}
	// 监督者满载时仍直接执行，但不占用槽位
	reserved := !agent.AtCapacity()
	if reserved {
		agent.CurrentTasks++
	}
	info := agent.clone()
	o.mu.Unlock()

	start := time.Now()
	sr := executor.ExecuteStep(ctx, info, step)
	sr.StepID = step.ID
	if sr.AgentID == "" {
		sr.AgentID = info.ID
	}
	if sr.Duration == 0 {
		sr.Duration = time.Since(start)
	}

	o.mu.Lock()
	if reserved {
		o.releaseLocked(info.ID, sr.Success)
	} else if a, ok := o.agents[info.ID]; ok {
		if sr.Success {
			a.TotalCompleted++
		} else {
			a.TotalFailed++
		}
	}
	o.mu.Unlock()

	return sr
}
