package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CapabilityGeneral is accepted for any capability request.
const CapabilityGeneral = "general"

// State is the lifecycle state of a Worker.
type State string

const (
	StateIdle    State = "idle"
	StateBusy    State = "busy"
	StatePaused  State = "paused"
	StateError   State = "error"
	StateStopped State = "stopped"
)

// ErrWorkerStopped is returned when a stopped worker is asked to do something.
var ErrWorkerStopped = types.NewError(types.ErrWorkerStopped, "worker is stopped")

// ActionExecutor runs one action. It is injected into every Worker and must
// be safe for concurrent use across workers.
type ActionExecutor interface {
	Execute(ctx context.Context, action string, params map[string]any) (any, error)
}

// ExecutorFunc adapts a function to ActionExecutor.
type ExecutorFunc func(ctx context.Context, action string, params map[string]any) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	return f(ctx, action, params)
}

// =============================================================================
// Task / Result
// =============================================================================

// WorkerTask is one unit of work queued on a Worker.
type WorkerTask struct {
	ID        string
	Action    string
	Params    map[string]any
	Priority  int
	CreatedAt time.Time
	// Timeout bounds execution; zero uses the worker default.
	Timeout time.Duration
	// Callback receives the result on the worker goroutine.
	Callback func(WorkerResult)
	// Capability is the capability the pool routed the task by. It is
	// reused when the task moves off a removed worker.
	Capability string
}

// TaskOption configures a WorkerTask.
type TaskOption func(*WorkerTask)

// WithTaskID overrides the generated id.
func WithTaskID(id string) TaskOption {
	return func(t *WorkerTask) { t.ID = id }
}

// WithPriority sets the priority (1 = highest).
func WithPriority(p int) TaskOption {
	return func(t *WorkerTask) { t.Priority = p }
}

// WithTimeout sets the execution timeout.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *WorkerTask) { t.Timeout = d }
}

// WithCallback sets the completion callback.
func WithCallback(fn func(WorkerResult)) TaskOption {
	return func(t *WorkerTask) { t.Callback = fn }
}

// NewTask creates a task with priority 5.
func NewTask(action string, params map[string]any, opts ...TaskOption) *WorkerTask {
	t := &WorkerTask{
		ID:        uuid.New().String(),
		Action:    action,
		Params:    params,
		Priority:  5,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WorkerResult is the outcome of one WorkerTask.
type WorkerResult struct {
	TaskID   string        `json:"task_id"`
	WorkerID string        `json:"worker_id"`
	Success  bool          `json:"success"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// =============================================================================
// Worker
// =============================================================================

// Config 单个 Worker 的配置
type Config struct {
	ID           string
	Capabilities []string
	// Priority breaks load ties in pool selection; lower wins.
	Priority int
	// PollInterval bounds how long an idle loop blocks before re-checking state.
	PollInterval time.Duration
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration
	// DefaultTaskTimeout applies to tasks without their own timeout.
	DefaultTaskTimeout time.Duration
}

// Stats is a point-in-time snapshot of a Worker.
type Stats struct {
	ID             string        `json:"id"`
	State          State         `json:"state"`
	Capabilities   []string      `json:"capabilities"`
	Priority       int           `json:"priority"`
	QueueSize      int           `json:"queue_size"`
	CurrentTask    string        `json:"current_task,omitempty"`
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	BusyTime       time.Duration `json:"busy_time"`
	SuccessRate    float64       `json:"success_rate"`
}

// Worker owns a priority queue and executes its tasks one at a time on a
// dedicated goroutine.
type Worker struct {
	config   Config
	queue    *TaskQueue
	executor ActionExecutor

	mu        sync.RWMutex
	state     State
	current   *WorkerTask
	completed int64
	failed    int64
	busyTime  time.Duration
	started   bool

	stopOnce sync.Once
	stopCtx  context.Context
	stopFn   context.CancelFunc
	resume   chan struct{}
	done     chan struct{}

	metrics *metrics.Collector
	logger  *zap.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerMetrics records task outcomes on the collector.
func WithWorkerMetrics(c *metrics.Collector) WorkerOption {
	return func(w *Worker) { w.metrics = c }
}

// New creates a Worker in the idle state. Call Start to launch its loop.
func New(cfg Config, executor ActionExecutor, logger *zap.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ID == "" {
		cfg.ID = "worker-" + uuid.New().String()[:8]
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = []string{CapabilityGeneral}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		config:   cfg,
		queue:    NewTaskQueue(),
		executor: executor,
		state:    StateIdle,
		stopCtx:  ctx,
		stopFn:   cancel,
		resume:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger: logger.With(
			zap.String("component", "worker"),
			zap.String("worker_id", cfg.ID),
		),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.config.ID }

// Priority returns the configured tie-break priority.
func (w *Worker) Priority() int { return w.config.Priority }

// Capabilities returns a copy of the capability list.
func (w *Worker) Capabilities() []string {
	return append([]string(nil), w.config.Capabilities...)
}

// HasCapability reports whether the worker can take tasks needing capability.
// Workers with the general capability accept everything.
func (w *Worker) HasCapability(capability string) bool {
	for _, c := range w.config.Capabilities {
		if c == capability || c == CapabilityGeneral {
			return true
		}
	}
	return false
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// QueueSize returns the number of waiting tasks.
func (w *Worker) QueueSize() int {
	return w.queue.Len()
}

// Start launches the run loop. Calling it twice is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started || w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.run()
	w.logger.Info("worker started", zap.Strings("capabilities", w.config.Capabilities))
}

// SubmitTask enqueues a task. It returns false only when the worker is stopped.
func (w *Worker) SubmitTask(task *WorkerTask) bool {
	w.mu.RLock()
	stopped := w.state == StateStopped
	w.mu.RUnlock()
	if stopped || task == nil {
		return false
	}

	if !w.queue.Push(task) {
		return false
	}
	w.metrics.SetWorkerQueue(w.config.ID, w.queue.Len())
	w.logger.Debug("task queued",
		zap.String("task_id", task.ID),
		zap.String("action", task.Action),
		zap.Int("priority", task.Priority),
	)
	return true
}

// Pause stops new dequeues; an in-flight task finishes normally.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateStopped {
		return
	}
	w.state = StatePaused
}

// Resume undoes Pause.
func (w *Worker) Resume() {
	w.mu.Lock()
	if w.state != StatePaused {
		w.mu.Unlock()
		return
	}
	if w.current != nil {
		w.state = StateBusy
	} else {
		w.state = StateIdle
	}
	w.mu.Unlock()

	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// Stop marks the worker stopped and waits up to StopTimeout for the loop to
// exit. An in-flight task is not cancelled; if it outlives the wait, Stop
// returns a timeout error and the loop exits once the task returns.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.state = StateStopped
		started := w.started
		w.mu.Unlock()

		w.stopFn()
		if !started {
			close(w.done)
		}
		w.logger.Info("worker stopping")
	})

	select {
	case <-w.done:
		return nil
	case <-time.After(w.config.StopTimeout):
		return types.Errorf(types.ErrTimeout, "worker %s did not stop within %s", w.config.ID, w.config.StopTimeout)
	}
}

// Drain removes every waiting task. On a stopped worker it also closes the
// queue, so nothing can be queued or put back afterwards.
func (w *Worker) Drain() []*WorkerTask {
	var tasks []*WorkerTask
	if w.State() == StateStopped {
		tasks = w.queue.Close()
	} else {
		tasks = w.queue.Drain()
	}
	w.metrics.SetWorkerQueue(w.config.ID, 0)
	return tasks
}

// abandon reports a task that will never run as failed. Worker counters are
// left alone since the action never executed.
func (w *Worker) abandon(task *WorkerTask, reason string) {
	w.logger.Warn("task abandoned", zap.String("task_id", task.ID), zap.String("reason", reason))
	if task.Callback == nil {
		return
	}
	w.invokeCallback(task, WorkerResult{
		TaskID:   task.ID,
		WorkerID: w.config.ID,
		Success:  false,
		Error:    reason,
	})
}

// Stats returns a snapshot.
func (w *Worker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Stats{
		ID:             w.config.ID,
		State:          w.state,
		Capabilities:   append([]string(nil), w.config.Capabilities...),
		Priority:       w.config.Priority,
		QueueSize:      w.queue.Len(),
		TasksCompleted: w.completed,
		TasksFailed:    w.failed,
		BusyTime:       w.busyTime,
		SuccessRate:    successRate(w.completed, w.failed),
	}
	if w.current != nil {
		s.CurrentTask = w.current.ID
	}
	return s
}

// =============================================================================
// Run loop
// =============================================================================

func (w *Worker) run() {
	defer close(w.done)

	for {
		if w.stopCtx.Err() != nil {
			return
		}

		switch w.State() {
		case StateStopped:
			return
		case StatePaused:
			select {
			case <-w.stopCtx.Done():
				return
			case <-w.resume:
			case <-time.After(w.config.PollInterval):
			}
			continue
		case StateError:
			w.setStateIf(StateError, StateIdle)
		}

		entry, ok := w.queue.popEntry(w.stopCtx, w.config.PollInterval)
		if !ok {
			continue
		}
		ok, orphan := w.claim(entry)
		if orphan != nil {
			w.abandon(orphan, "worker stopped")
		}
		if !ok {
			continue
		}
		w.metrics.SetWorkerQueue(w.config.ID, w.queue.Len())
		w.process(entry.task)
	}
}

// claim makes the popped task current. A Pause or Stop that landed while the
// loop was blocked in Pop wins: the task goes back to the queue in its
// original position, or is returned as an orphan when the queue is closed.
func (w *Worker) claim(entry *queued) (bool, *WorkerTask) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StatePaused || w.state == StateStopped {
		if !w.queue.restore(entry) {
			return false, entry.task
		}
		return false, nil
	}
	w.current = entry.task
	w.state = StateBusy
	return true, nil
}

func (w *Worker) process(task *WorkerTask) {
	start := time.Now()
	output, err := w.execute(task)
	duration := time.Since(start)

	result := WorkerResult{
		TaskID:   task.ID,
		WorkerID: w.config.ID,
		Success:  err == nil,
		Output:   output,
		Duration: duration,
	}
	if err != nil {
		result.Error = err.Error()
		w.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.String("action", task.Action),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	} else {
		w.logger.Debug("task completed",
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration),
		)
	}

	w.mu.Lock()
	w.current = nil
	w.busyTime += duration
	if result.Success {
		w.completed++
	} else {
		w.failed++
	}
	if w.state == StateBusy {
		w.state = StateIdle
	}
	w.mu.Unlock()

	w.metrics.RecordWorkerTask(w.config.ID, result.Success, duration)

	if task.Callback != nil {
		w.invokeCallback(task, result)
	}
}

// execute runs the action under the task timeout. Panics and timeouts become
// errors; a timed-out action keeps running in the background until it returns.
func (w *Worker) execute(task *WorkerTask) (any, error) {
	if w.executor == nil {
		return nil, fmt.Errorf("no action executor configured")
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = w.config.DefaultTaskTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = ctxkeys.WithWorkerID(ctxkeys.WithTaskID(ctx, task.ID), w.config.ID)

	type outcome struct {
		output any
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("action panicked",
					zap.String("task_id", task.ID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				ch <- outcome{err: fmt.Errorf("action panicked: %v", r)}
			}
		}()
		out, err := w.executor.Execute(ctx, task.Action, task.Params)
		ch <- outcome{output: out, err: err}
	}()

	timedOut := func() error {
		return types.Errorf(types.ErrTimeout, "task %s timed out after %s", task.ID, timeout).WithRetryable(true)
	}

	select {
	case o := <-ch:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timedOut()
		}
		return o.output, o.err
	case <-ctx.Done():
		return nil, timedOut()
	}
}

func (w *Worker) invokeCallback(task *WorkerTask, result WorkerResult) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task callback panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
			)
			w.setStateIf(StateIdle, StateError)
		}
	}()
	task.Callback(result)
}

func (w *Worker) setStateIf(from, to State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == from {
		w.state = to
	}
}

func successRate(completed, failed int64) float64 {
	total := completed + failed
	if total == 0 {
		return 1.0
	}
	return float64(completed) / float64(total)
}
