package orchestrator

import (
	"context"
	"sync"

	"github.com/BaSui01/agentcouncil/agent/protocol"
	"github.com/BaSui01/agentcouncil/agent/worker"
	"github.com/BaSui01/agentcouncil/types"
	"go.uber.org/zap"
)

// WorkerBridge executes task_assign messages on a worker pool and answers
// each with a correlated task_complete or task_failed message.
//
// A message addressed to a worker id runs on that worker. A message addressed
// to one of the pool agents (see WithPoolAgent) is routed by capability.
// Anything else is left to other handlers.
type WorkerBridge struct {
	pool     *worker.Pool
	protocol *protocol.Protocol
	logger   *zap.Logger

	poolAgents map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// BridgeOption 配置 WorkerBridge
type BridgeOption func(*WorkerBridge)

// WithPoolAgent makes messages addressed to id run on any capable worker.
func WithPoolAgent(id string) BridgeOption {
	return func(b *WorkerBridge) { b.poolAgents[id] = true }
}

// NewWorkerBridge registers the task_assign handler on p.
func NewWorkerBridge(pool *worker.Pool, p *protocol.Protocol, logger *zap.Logger, opts ...BridgeOption) *WorkerBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &WorkerBridge{
		pool:       pool,
		protocol:   p,
		logger:     logger.With(zap.String("component", "worker_bridge")),
		poolAgents: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	p.RegisterHandler(protocol.MessageTaskAssign, b.handleAssign)
	return b
}

// Close waits for accepted tasks to report back, or for ctx to end. Stop the
// pool first: tasks still queued then report back as failed.
func (b *WorkerBridge) Close(ctx context.Context) error {
	defer b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return types.NewError(types.ErrTimeout, "worker bridge close timed out").WithCause(ctx.Err())
	}
}

func (b *WorkerBridge) handleAssign(ctx context.Context, msg *protocol.Message) error {
	_, isWorker := b.pool.Worker(msg.Receiver)
	if !isWorker && !b.poolAgents[msg.Receiver] {
		return nil
	}

	taskID := msg.String(protocol.KeyTaskID)
	b.wg.Add(1)
	task := worker.NewTask(msg.String(protocol.KeyAction), msg.Map(protocol.KeyParams),
		worker.WithPriority(msg.Priority),
		worker.WithCallback(func(res worker.WorkerResult) {
			defer b.wg.Done()
			b.reply(msg, taskID, res)
		}),
	)
	if taskID != "" {
		task.ID = taskID
	}

	var accepted bool
	workerID := msg.Receiver
	if isWorker {
		accepted = b.pool.SubmitTo(workerID, task)
	} else {
		workerID, accepted = b.pool.SubmitTask(task, firstCapability(msg.StringSlice(protocol.KeyCapabilities)))
	}

	if !accepted {
		b.wg.Done()
		err := worker.ErrWorkerStopped
		if !isWorker {
			err = types.NewError(types.ErrNoWorker, "no worker can take the task")
		}
		b.logger.Warn("task rejected", zap.String("task_id", taskID), zap.String("receiver", msg.Receiver), zap.Error(err))
		_, sendErr := b.protocol.Reply(ctx, msg, protocol.MessageTaskFailed, msg.Receiver, map[string]any{
			protocol.KeyTaskID: taskID,
			protocol.KeyError:  err.Error(),
		})
		return sendErr
	}

	_, err := b.protocol.Reply(ctx, msg, protocol.MessageTaskAccept, msg.Receiver, map[string]any{
		protocol.KeyTaskID:   taskID,
		protocol.KeyWorkerID: workerID,
	})
	return err
}

func (b *WorkerBridge) reply(req *protocol.Message, taskID string, res worker.WorkerResult) {
	kind := protocol.MessageTaskComplete
	payload := map[string]any{
		protocol.KeyTaskID:   taskID,
		protocol.KeyWorkerID: res.WorkerID,
		protocol.KeyDuration: res.Duration.Seconds(),
	}
	if res.Success {
		payload[protocol.KeyOutput] = res.Output
	} else {
		kind = protocol.MessageTaskFailed
		payload[protocol.KeyError] = res.Error
	}

	if _, err := b.protocol.Reply(b.ctx, req, kind, req.Receiver, payload); err != nil {
		b.logger.Error("failed to report task result", zap.String("task_id", taskID), zap.Error(err))
	}
}

// StepExecutor runs plan steps on the pool: on the named worker when the
// agent is a worker, otherwise on any worker with the step's first capability.
func (b *WorkerBridge) StepExecutor() StepExecutor {
	return StepExecutorFunc(func(ctx context.Context, agent AgentInfo, step Step) StepResult {
		done := make(chan worker.WorkerResult, 1)
		task := worker.NewTask(step.Type, step.Params,
			worker.WithCallback(func(res worker.WorkerResult) { done <- res }),
		)

		var accepted bool
		if _, ok := b.pool.Worker(agent.ID); ok {
			accepted = b.pool.SubmitTo(agent.ID, task)
		} else {
			_, accepted = b.pool.SubmitTask(task, firstCapability(step.Capabilities))
		}
		if !accepted {
			return StepResult{StepID: step.ID, AgentID: agent.ID, Error: "no worker can take the step"}
		}

		select {
		case res := <-done:
			return StepResult{
				StepID:   step.ID,
				AgentID:  agent.ID,
				Success:  res.Success,
				Output:   res.Output,
				Error:    res.Error,
				Duration: res.Duration,
			}
		case <-ctx.Done():
			return StepResult{StepID: step.ID, AgentID: agent.ID, Error: ctx.Err().Error()}
		}
	})
}

func firstCapability(caps []string) string {
	if len(caps) == 0 {
		return worker.CapabilityGeneral
	}
	return caps[0]
}
