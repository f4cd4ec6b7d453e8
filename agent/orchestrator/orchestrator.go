package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/agent/protocol"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config 编排器配置
type Config struct {
	// AgentID is the sender id of messages the orchestrator emits.
	AgentID string `json:"agent_id" yaml:"agent_id" env:"AGENT_ID"`
	// SupervisorID preselects the supervisor once an agent with that id registers.
	SupervisorID     string `json:"supervisor_id" yaml:"supervisor_id" env:"SUPERVISOR_ID"`
	MaxParallelTasks int    `json:"max_parallel_tasks" yaml:"max_parallel_tasks" env:"MAX_PARALLEL_TASKS"`
	MaxRetries       int    `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES"`
	RescueOnFailure  bool   `json:"rescue_on_failure" yaml:"rescue_on_failure" env:"RESCUE_ON_FAILURE"`
	// MaxTaskHistory bounds how many finished tasks stay queryable in memory.
	MaxTaskHistory int `json:"max_task_history" yaml:"max_task_history" env:"MAX_TASK_HISTORY"`
}

// DefaultConfig 返回默认编排器配置
func DefaultConfig() Config {
	return Config{
		AgentID:          "orchestrator",
		MaxParallelTasks: 4,
		MaxRetries:       3,
		RescueOnFailure:  true,
		MaxTaskHistory:   10000,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.AgentID == "" {
		return types.NewError(types.ErrInvalidConfig, "orchestrator agent_id is required")
	}
	if c.MaxParallelTasks < 1 {
		return types.Errorf(types.ErrInvalidConfig, "max_parallel_tasks must be >= 1, got %d", c.MaxParallelTasks)
	}
	if c.MaxRetries < 0 {
		return types.Errorf(types.ErrInvalidConfig, "max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MaxTaskHistory < 0 {
		return types.Errorf(types.ErrInvalidConfig, "max_task_history must be >= 0, got %d", c.MaxTaskHistory)
	}
	return nil
}

// TaskInfo 任务快照
type TaskInfo struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	Params       map[string]any         `json:"params,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Priority     int                    `json:"priority"`
	Status       persistence.TaskStatus `json:"status"`
	AgentID      string                 `json:"agent_id,omitempty"`
	Attempts     int                    `json:"attempts"`
	Errors       []string               `json:"errors,omitempty"`
	Output       any                    `json:"output,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`

	assign *protocol.Message
}

func (t *TaskInfo) snapshot() TaskInfo {
	c := *t
	c.Capabilities = append([]string(nil), t.Capabilities...)
	c.Errors = append([]string(nil), t.Errors...)
	c.assign = nil
	return c
}

func (t *TaskInfo) record() *persistence.TaskRecord {
	return &persistence.TaskRecord{
		ID:       t.ID,
		Action:   t.Action,
		Status:   t.Status,
		AgentID:  t.AgentID,
		Attempts: t.Attempts,
		Errors:   append([]string(nil), t.Errors...),
		Output:   t.Output,
		Payload: map[string]any{
			protocol.KeyParams:       t.Params,
			protocol.KeyCapabilities: append([]string(nil), t.Capabilities...),
		},
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func fromRecord(rec *persistence.TaskRecord) TaskInfo {
	info := TaskInfo{
		ID:        rec.ID,
		Action:    rec.Action,
		Status:    rec.Status,
		AgentID:   rec.AgentID,
		Attempts:  rec.Attempts,
		Errors:    rec.Errors,
		Output:    rec.Output,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if params, ok := rec.Payload[protocol.KeyParams].(map[string]any); ok {
		info.Params = params
	}
	return info
}

// Callbacks 进度回调，同步调用，不得长时间阻塞
type Callbacks struct {
	OnProgress func(taskID string, progress float64, output any)
	OnComplete func(taskID string, output any)
	OnError    func(taskID string, err error)
	OnEscalate func(taskID string, errors []string)
}

// Status 编排器状态快照
type Status struct {
	Supervisor string      `json:"supervisor"`
	Agents     []AgentInfo `json:"agents"`
	Active     int         `json:"active"`
	Queued     int         `json:"queued"`
	Completed  int         `json:"completed"`
	Failed     int         `json:"failed"`
	Escalated  int         `json:"escalated"`
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator routes tasks to registered agents over a Protocol and drives
// the retry/escalation state machine from the replies it receives.
type Orchestrator struct {
	config    Config
	protocol  *protocol.Protocol
	store     persistence.TaskStore
	metrics   *metrics.Collector
	callbacks Callbacks
	logger    *zap.Logger

	mu         sync.Mutex
	agents     map[string]*AgentInfo
	order      []string
	supervisor string
	tasks      map[string]*TaskInfo
	queue      []*TaskInfo
	history    []string
	active     int
	completed  int
	failed     int
	escalated  int
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithTaskStore mirrors task state changes into store.
func WithTaskStore(store persistence.TaskStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithMetrics records dispatch and outcome metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithCallbacks installs progress callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(o *Orchestrator) { o.callbacks = cb }
}

// New 创建编排器，并在 p 上注册任务回执处理器
func New(config Config, p *protocol.Protocol, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "orchestrator needs a protocol")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		config:   config,
		protocol: p,
		logger:   logger.With(zap.String("component", "orchestrator")),
		agents:   make(map[string]*AgentInfo),
		tasks:    make(map[string]*TaskInfo),
	}
	for _, opt := range opts {
		opt(o)
	}

	p.RegisterHandler(protocol.MessageTaskComplete, o.handleComplete)
	p.RegisterHandler(protocol.MessageTaskFailed, o.handleFailed)
	p.RegisterHandler(protocol.MessageTaskReject, o.handleFailed)
	p.RegisterHandler(protocol.MessageTaskProgress, o.handleProgress)

	return o, nil
}

// ID returns the orchestrator's agent id on the protocol.
func (o *Orchestrator) ID() string { return o.config.AgentID }

// =============================================================================
// Agent registry
// =============================================================================

// RegisterAgent adds an agent. Counters are reset, the agent starts available,
// and MaxConcurrentTasks defaults to 1. The first supervisor registered (or the
// configured SupervisorID) becomes the current supervisor.
func (o *Orchestrator) RegisterAgent(ctx context.Context, info AgentInfo) error {
	if info.ID == "" {
		return types.NewError(types.ErrInvalidConfig, "agent id is required")
	}
	if !info.Role.IsValid() {
		return types.Errorf(types.ErrInvalidConfig, "unknown agent role %q", info.Role)
	}

	o.mu.Lock()
	if _, exists := o.agents[info.ID]; exists {
		o.mu.Unlock()
		return types.Errorf(types.ErrAgentExists, "agent %s already registered", info.ID)
	}

	a := info.clone()
	if a.MaxConcurrentTasks <= 0 {
		a.MaxConcurrentTasks = 1
	}
	a.CurrentTasks, a.TotalCompleted, a.TotalFailed = 0, 0, 0
	a.Available = true
	a.RegisteredAt = time.Now()
	o.agents[a.ID] = &a
	o.order = append(o.order, a.ID)

	if a.ID == o.config.SupervisorID || (o.supervisor == "" && a.Role == RoleSupervisor) {
		o.supervisor = a.ID
	}

	var e effects
	o.drainLocked(&e)
	o.mu.Unlock()

	o.logger.Info("agent registered",
		zap.String("agent_id", a.ID),
		zap.String("role", string(a.Role)),
		zap.Strings("capabilities", a.Capabilities),
	)
	o.apply(ctx, &e)
	return nil
}

// UnregisterAgent removes an agent. Replies for tasks it still holds are
// processed normally but no longer touch its counters.
func (o *Orchestrator) UnregisterAgent(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.agents[id]; !ok {
		return types.Errorf(types.ErrAgentNotFound, "agent %s not registered", id)
	}
	delete(o.agents, id)
	for i, aid := range o.order {
		if aid == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	if o.supervisor == id {
		o.supervisor = ""
	}
	o.logger.Info("agent unregistered", zap.String("agent_id", id))
	return nil
}

// SetSupervisor makes a registered agent the supervisor.
func (o *Orchestrator) SetSupervisor(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.agents[id]; !ok {
		return types.Errorf(types.ErrAgentNotFound, "agent %s not registered", id)
	}
	o.supervisor = id
	return nil
}

// SetAgentAvailability marks an agent (un)available for selection.
func (o *Orchestrator) SetAgentAvailability(ctx context.Context, id string, available bool) error {
	o.mu.Lock()
	a, ok := o.agents[id]
	if !ok {
		o.mu.Unlock()
		return types.Errorf(types.ErrAgentNotFound, "agent %s not registered", id)
	}
	a.Available = available

	var e effects
	if available {
		o.drainLocked(&e)
	}
	o.mu.Unlock()

	o.apply(ctx, &e)
	return nil
}

// Agent returns a copy of one agent's info.
func (o *Orchestrator) Agent(id string) (AgentInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.agents[id]
	if !ok {
		return AgentInfo{}, false
	}
	return a.clone(), true
}

// Supervisor returns the current supervisor id, or "".
func (o *Orchestrator) Supervisor() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.supervisor
}

// GetBestOperator picks the highest scoring available operator (specialists
// if no operator is registered) having every capability. Ties go to the
// earliest registered agent.
func (o *Orchestrator) GetBestOperator(capabilities []string) (AgentInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	a := o.bestOperatorLocked(capabilities, false)
	if a == nil {
		return AgentInfo{}, false
	}
	return a.clone(), true
}

func (o *Orchestrator) bestOperatorLocked(capabilities []string, skipFull bool) *AgentInfo {
	candidates := o.byRoleLocked(RoleOperator)
	if len(candidates) == 0 {
		candidates = o.byRoleLocked(RoleSpecialist)
	}

	var best *AgentInfo
	bestScore := -1.0
	for _, a := range candidates {
		if !a.Available || !a.HasCapabilities(capabilities) {
			continue
		}
		if skipFull && a.AtCapacity() {
			continue
		}
		if s := a.Score(); s > bestScore {
			best, bestScore = a, s
		}
	}
	return best
}

func (o *Orchestrator) byRoleLocked(role AgentRole) []*AgentInfo {
	var out []*AgentInfo
	for _, id := range o.order {
		if a := o.agents[id]; a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// targetLocked is the agent a task would go to now: the best operator with a
// free slot, else the supervisor if it has one.
func (o *Orchestrator) targetLocked(capabilities []string) *AgentInfo {
	if a := o.bestOperatorLocked(capabilities, true); a != nil {
		return a
	}
	if sup, ok := o.agents[o.supervisor]; ok && sup.Available && !sup.AtCapacity() {
		return sup
	}
	return nil
}

func (o *Orchestrator) releaseLocked(agentID string, success bool) {
	a, ok := o.agents[agentID]
	if !ok {
		return
	}
	if a.CurrentTasks > 0 {
		a.CurrentTasks--
	}
	if success {
		a.TotalCompleted++
	} else {
		a.TotalFailed++
	}
}

// =============================================================================
// Task submission
// =============================================================================

// SubmitOption customises SubmitTask.
type SubmitOption func(*TaskInfo)

// WithTaskID sets the task id instead of a generated one.
func WithTaskID(id string) SubmitOption {
	return func(t *TaskInfo) { t.ID = id }
}

// WithCapabilities restricts the task to agents having every capability.
func WithCapabilities(caps ...string) SubmitOption {
	return func(t *TaskInfo) { t.Capabilities = append(t.Capabilities, caps...) }
}

// WithPriority sets the task message priority.
func WithPriority(p int) SubmitOption {
	return func(t *TaskInfo) { t.Priority = p }
}

// SubmitTask dispatches a task, or queues it when max_parallel_tasks tasks
// are active or no agent has a free slot. It returns the task id.
func (o *Orchestrator) SubmitTask(ctx context.Context, action string, params map[string]any, opts ...SubmitOption) (id string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.submit_task", telemetry.AttrAction.String(action))
	defer func() { telemetry.EndSpan(span, err) }()

	now := time.Now()
	task := &TaskInfo{
		ID:        uuid.New().String(),
		Action:    action,
		Params:    params,
		Priority:  protocol.PriorityDefault,
		Status:    persistence.TaskStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(task)
	}

	o.mu.Lock()
	if o.supervisor == "" {
		o.mu.Unlock()
		return "", types.NewError(types.ErrNoSupervisor, "no supervisor registered")
	}
	if _, dup := o.tasks[task.ID]; dup {
		o.mu.Unlock()
		return "", types.Errorf(types.ErrInvalidMessage, "task %s already submitted", task.ID)
	}
	o.tasks[task.ID] = task

	var e effects
	if o.active >= o.config.MaxParallelTasks || !o.dispatchLocked(task, &e) {
		o.queue = append(o.queue, task)
		e.records = append(e.records, task.record())
		o.metrics.RecordTaskQueued()
		o.logger.Debug("task queued",
			zap.String("task_id", task.ID),
			zap.Int("active", o.active),
			zap.Int("queued", len(o.queue)),
		)
	} else {
		o.active++
	}
	e.load(o)
	status := task.Status
	o.mu.Unlock()

	span.SetAttributes(telemetry.AttrTaskID.String(task.ID), telemetry.AttrStatus.String(string(status)))
	o.apply(ctx, &e)
	return task.ID, nil
}

// dispatchLocked assigns task to the current target and queues its
// task_assign message. The caller accounts for the active slot.
func (o *Orchestrator) dispatchLocked(task *TaskInfo, e *effects) bool {
	target := o.targetLocked(task.Capabilities)
	if target == nil {
		return false
	}

	target.CurrentTasks++
	task.AgentID = target.ID
	task.Status = persistence.TaskStatusDispatched
	task.UpdatedAt = time.Now()

	if task.assign == nil {
		task.assign = protocol.NewMessage(protocol.MessageTaskAssign, o.config.AgentID, target.ID,
			map[string]any{
				protocol.KeyTaskID:       task.ID,
				protocol.KeyAction:       task.Action,
				protocol.KeyParams:       task.Params,
				protocol.KeyCapabilities: task.Capabilities,
			},
			protocol.WithPriority(task.Priority),
			protocol.WithMaxRetries(o.config.MaxRetries),
		)
	} else {
		task.assign = task.assign.WithAttempts(target.ID, task.Attempts)
	}

	o.metrics.RecordTaskDispatched(string(target.Role))
	e.sends = append(e.sends, task.assign)
	e.records = append(e.records, task.record())
	o.logger.Debug("task dispatched",
		zap.String("task_id", task.ID),
		zap.String("agent_id", target.ID),
		zap.Int("attempts", task.Attempts),
	)
	return true
}

// drainLocked dispatches queued tasks strictly FIFO while slots are free. A
// head task with no eligible agent blocks the tasks behind it.
func (o *Orchestrator) drainLocked(e *effects) {
	for len(o.queue) > 0 && o.active < o.config.MaxParallelTasks {
		head := o.queue[0]
		if !o.dispatchLocked(head, e) {
			break
		}
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.active++
	}
	e.load(o)
}

// =============================================================================
// Replies
// =============================================================================

// activeTaskLocked resolves the dispatched task a reply refers to. Replies to
// a superseded attempt are ignored.
func (o *Orchestrator) activeTaskLocked(msg *protocol.Message) (*TaskInfo, bool) {
	task, ok := o.tasks[msg.String(protocol.KeyTaskID)]
	if !ok || task.Status != persistence.TaskStatusDispatched {
		return nil, false
	}
	if msg.CorrelationID != "" && task.assign != nil && msg.CorrelationID != task.assign.ID {
		return nil, false
	}
	return task, true
}

func (o *Orchestrator) handleComplete(ctx context.Context, msg *protocol.Message) error {
	o.mu.Lock()
	task, ok := o.activeTaskLocked(msg)
	if !ok {
		o.mu.Unlock()
		o.logger.Debug("ignoring completion for unknown or stale task",
			zap.String("msg_id", msg.ID),
			zap.String("task_id", msg.String(protocol.KeyTaskID)),
		)
		return nil
	}

	o.releaseLocked(task.AgentID, true)
	task.Status = persistence.TaskStatusCompleted
	task.Output = msg.Payload[protocol.KeyOutput]
	task.UpdatedAt = time.Now()
	o.active--
	o.completed++
	o.finishLocked(task)

	var e effects
	e.records = append(e.records, task.record())
	e.outcome = "completed"
	if cb := o.callbacks.OnComplete; cb != nil {
		id, out := task.ID, task.Output
		e.calls = append(e.calls, func() { cb(id, out) })
	}
	agentID := task.AgentID
	o.drainLocked(&e)
	o.mu.Unlock()

	o.logger.Info("task completed", zap.String("task_id", task.ID), zap.String("agent_id", agentID))
	o.apply(ctx, &e)
	return nil
}

func (o *Orchestrator) handleFailed(ctx context.Context, msg *protocol.Message) error {
	o.mu.Lock()
	task, ok := o.activeTaskLocked(msg)
	if !ok {
		o.mu.Unlock()
		return nil
	}

	reason := msg.String(protocol.KeyError)
	if reason == "" {
		reason = fmt.Sprintf("%s from %s", msg.Type, msg.Sender)
	}
	o.releaseLocked(task.AgentID, false)
	task.Errors = append(task.Errors, reason)
	task.UpdatedAt = time.Now()

	var e effects
	if task.Attempts < o.config.MaxRetries {
		task.Attempts++
		e.outcome = "retried"
		attempt := task.Attempts
		if !o.dispatchLocked(task, &e) {
			// 无可用 agent：重试排在溢出队列队首，等待 drainLocked 重新派发
			task.Status = persistence.TaskStatusQueued
			o.active--
			o.queue = append([]*TaskInfo{task}, o.queue...)
			e.records = append(e.records, task.record())
			o.metrics.RecordTaskQueued()
			o.drainLocked(&e)
		}
		e.load(o)
		status := task.Status
		o.mu.Unlock()

		o.logger.Warn("task failed, retrying",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt),
			zap.String("status", string(status)),
			zap.String("error", reason),
		)
		o.apply(ctx, &e)
		return nil
	}

	sup, hasSupervisor := o.agents[o.supervisor]
	if o.config.RescueOnFailure && hasSupervisor {
		o.escalateLocked(task, sup, &e)
	} else {
		o.failLocked(task, &e)
	}
	o.active--
	o.finishLocked(task)
	o.drainLocked(&e)
	o.mu.Unlock()

	o.apply(ctx, &e)
	return nil
}

func (o *Orchestrator) escalateLocked(task *TaskInfo, sup *AgentInfo, e *effects) {
	task.Status = persistence.TaskStatusEscalated
	o.escalated++

	errs := append([]string(nil), task.Errors...)
	rescue := protocol.NewMessage(protocol.MessageRescueRequest, o.config.AgentID, sup.ID,
		map[string]any{
			protocol.KeyTaskID: task.ID,
			protocol.KeyOriginalPayload: map[string]any{
				protocol.KeyAction:       task.Action,
				protocol.KeyParams:       task.Params,
				protocol.KeyCapabilities: task.Capabilities,
			},
			protocol.KeyErrors:   errs,
			protocol.KeyAttempts: task.Attempts,
		},
		protocol.WithPriority(protocol.PriorityHighest),
	)
	e.sends = append(e.sends, rescue)
	e.records = append(e.records, task.record())
	e.outcome = "escalated"
	if cb := o.callbacks.OnEscalate; cb != nil {
		id := task.ID
		e.calls = append(e.calls, func() { cb(id, errs) })
	}
	o.logger.Warn("task escalated to supervisor",
		zap.String("task_id", task.ID),
		zap.String("supervisor", sup.ID),
		zap.Int("attempts", task.Attempts),
		zap.Strings("errors", errs),
	)
}

func (o *Orchestrator) failLocked(task *TaskInfo, e *effects) {
	task.Status = persistence.TaskStatusFailed
	o.failed++

	err := types.Errorf(types.ErrActionFailed, "task %s failed after %d attempts: %s",
		task.ID, task.Attempts+1, strings.Join(task.Errors, "; "))
	e.records = append(e.records, task.record())
	e.outcome = "failed"
	if cb := o.callbacks.OnError; cb != nil {
		id := task.ID
		e.calls = append(e.calls, func() { cb(id, err) })
	}
	o.logger.Warn("task failed", zap.String("task_id", task.ID), zap.Error(err))
}

func (o *Orchestrator) handleProgress(ctx context.Context, msg *protocol.Message) error {
	cb := o.callbacks.OnProgress
	if cb == nil {
		return nil
	}
	progress := toFloat(msg.Payload[protocol.KeyProgress])
	cb(msg.String(protocol.KeyTaskID), progress, msg.Payload[protocol.KeyOutput])
	return nil
}

// toFloat accepts the numeric kinds a progress payload carries, whether it
// was built in Go or decoded from JSON.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

// finishLocked moves a terminal task into the bounded history.
func (o *Orchestrator) finishLocked(task *TaskInfo) {
	task.assign = nil
	o.history = append(o.history, task.ID)
	if o.config.MaxTaskHistory <= 0 {
		return
	}
	for len(o.history) > o.config.MaxTaskHistory {
		delete(o.tasks, o.history[0])
		o.history = o.history[1:]
	}
}

// =============================================================================
// Queries
// =============================================================================

// TaskStatus returns a task snapshot, falling back to the task store for
// tasks no longer held in memory.
func (o *Orchestrator) TaskStatus(ctx context.Context, id string) (TaskInfo, bool) {
	o.mu.Lock()
	task, ok := o.tasks[id]
	if ok {
		snap := task.snapshot()
		o.mu.Unlock()
		return snap, true
	}
	o.mu.Unlock()

	if o.store == nil {
		return TaskInfo{}, false
	}
	rec, err := o.store.GetTask(ctx, id)
	if err != nil {
		return TaskInfo{}, false
	}
	return fromRecord(rec), true
}

// Status returns counters and agents in registration order.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	agents := make([]AgentInfo, 0, len(o.order))
	for _, id := range o.order {
		agents = append(agents, o.agents[id].clone())
	}
	return Status{
		Supervisor: o.supervisor,
		Agents:     agents,
		Active:     o.active,
		Queued:     len(o.queue),
		Completed:  o.completed,
		Failed:     o.failed,
		Escalated:  o.escalated,
	}
}

// =============================================================================
// Side effects
// =============================================================================

// effects collects work decided under the lock and performed after it is
// released, since sending may re-enter the orchestrator's handlers.
type effects struct {
	sends   []*protocol.Message
	records []*persistence.TaskRecord
	calls   []func()
	outcome string
	active  int
	queued  int
	loaded  bool
}

func (e *effects) load(o *Orchestrator) {
	e.active, e.queued, e.loaded = o.active, len(o.queue), true
}

func (o *Orchestrator) apply(ctx context.Context, e *effects) {
	if e.outcome != "" {
		o.metrics.RecordTaskOutcome(e.outcome)
	}
	if e.loaded {
		o.metrics.SetOrchestratorLoad(e.active, e.queued)
	}
	if o.store != nil {
		for _, rec := range e.records {
			if err := o.store.SaveTask(ctx, rec); err != nil {
				o.logger.Error("failed to record task", zap.String("task_id", rec.ID), zap.Error(err))
			}
		}
	}
	for _, call := range e.calls {
		call()
	}
	for _, msg := range e.sends {
		if err := o.protocol.Send(ctx, msg); err != nil {
			o.logger.Error("failed to send message",
				zap.String("msg_id", msg.ID),
				zap.String("type", string(msg.Type)),
				zap.Error(err),
			)
		}
	}
}
