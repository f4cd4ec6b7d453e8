package worker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/types"
	"go.uber.org/zap"
)

// PoolConfig Worker 池配置
type PoolConfig struct {
	MinWorkers         int           `json:"min_workers" yaml:"min_workers" env:"MIN_WORKERS"`
	MaxWorkers         int           `json:"max_workers" yaml:"max_workers" env:"MAX_WORKERS"`
	PollInterval       time.Duration `json:"poll_interval" yaml:"poll_interval" env:"POLL_INTERVAL"`
	StopTimeout        time.Duration `json:"stop_timeout" yaml:"stop_timeout" env:"STOP_TIMEOUT"`
	DefaultTaskTimeout time.Duration `json:"default_task_timeout" yaml:"default_task_timeout" env:"DEFAULT_TASK_TIMEOUT"`
	// Capabilities given to workers the pool creates on its own.
	Capabilities []string `json:"capabilities" yaml:"capabilities" env:"CAPABILITIES"`
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinWorkers:         1,
		MaxWorkers:         8,
		PollInterval:       200 * time.Millisecond,
		StopTimeout:        5 * time.Second,
		DefaultTaskTimeout: 5 * time.Minute,
		Capabilities:       []string{CapabilityGeneral},
	}
}

// Validate checks the bounds.
func (c PoolConfig) Validate() error {
	if c.MinWorkers < 0 {
		return types.Errorf(types.ErrInvalidConfig, "min_workers must be >= 0, got %d", c.MinWorkers)
	}
	if c.MaxWorkers < 1 {
		return types.Errorf(types.ErrInvalidConfig, "max_workers must be >= 1, got %d", c.MaxWorkers)
	}
	if c.MinWorkers > c.MaxWorkers {
		return types.Errorf(types.ErrInvalidConfig, "min_workers (%d) exceeds max_workers (%d)", c.MinWorkers, c.MaxWorkers)
	}
	return nil
}

// Spec describes a worker to add to the pool.
type Spec struct {
	ID           string
	Capabilities []string
	Priority     int
}

// PoolStatus aggregates worker stats.
type PoolStatus struct {
	TotalWorkers   int           `json:"total_workers"`
	BusyWorkers    int           `json:"busy_workers"`
	IdleWorkers    int           `json:"idle_workers"`
	MinWorkers     int           `json:"min_workers"`
	MaxWorkers     int           `json:"max_workers"`
	TotalQueued    int           `json:"total_queued"`
	TotalCompleted int64         `json:"total_completed"`
	TotalFailed    int64         `json:"total_failed"`
	TotalBusyTime  time.Duration `json:"total_busy_time"`
	SuccessRate    float64       `json:"success_rate"`
	Workers        []Stats       `json:"workers"`
}

// Pool is a bounded set of Workers with load-balanced submission.
type Pool struct {
	config   PoolConfig
	executor ActionExecutor

	mu      sync.RWMutex
	workers []*Worker
	seq     int
	started bool

	metrics *metrics.Collector
	logger  *zap.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolMetrics records worker metrics on the collector.
func WithPoolMetrics(c *metrics.Collector) PoolOption {
	return func(p *Pool) { p.metrics = c }
}

// NewPool validates the config and creates MinWorkers general workers.
// Workers are not running until Start.
func NewPool(config PoolConfig, executor ActionExecutor, logger *zap.Logger, opts ...PoolOption) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "action executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.Capabilities) == 0 {
		config.Capabilities = []string{CapabilityGeneral}
	}

	p := &Pool{
		config:   config,
		executor: executor,
		logger:   logger.With(zap.String("component", "worker_pool")),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < config.MinWorkers; i++ {
		p.workers = append(p.workers, p.newWorkerLocked(Spec{}))
	}
	return p, nil
}

func (p *Pool) newWorkerLocked(spec Spec) *Worker {
	p.seq++
	if spec.ID == "" {
		spec.ID = fmt.Sprintf("worker-%d", p.seq)
	}
	if len(spec.Capabilities) == 0 {
		spec.Capabilities = p.config.Capabilities
	}
	return New(Config{
		ID:                 spec.ID,
		Capabilities:       spec.Capabilities,
		Priority:           spec.Priority,
		PollInterval:       p.config.PollInterval,
		StopTimeout:        p.config.StopTimeout,
		DefaultTaskTimeout: p.config.DefaultTaskTimeout,
	}, p.executor, p.logger, WithWorkerMetrics(p.metrics))
}

// Start launches every worker loop.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for _, w := range p.workers {
		w.Start()
	}
	p.logger.Info("worker pool started", zap.Int("workers", len(p.workers)))
}

// Stop stops every worker and waits for their loops.
func (p *Pool) Stop() error {
	p.mu.Lock()
	workers := append([]*Worker(nil), p.workers...)
	p.started = false
	p.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := w.Stop(); err != nil {
			errs = append(errs, err)
		}
		for _, task := range w.Drain() {
			w.abandon(task, "worker pool stopped")
		}
	}
	p.logger.Info("worker pool stopped", zap.Int("workers", len(workers)))
	return errors.Join(errs...)
}

// AddWorker adds a worker. It returns false when the pool is at max_workers
// or the id is taken.
func (p *Pool) AddWorker(spec Spec) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) >= p.config.MaxWorkers {
		p.logger.Warn("add worker refused: pool at max", zap.Int("max_workers", p.config.MaxWorkers))
		return nil, false
	}
	if spec.ID != "" && p.indexLocked(spec.ID) >= 0 {
		return nil, false
	}

	w := p.newWorkerLocked(spec)
	p.workers = append(p.workers, w)
	if p.started {
		w.Start()
	}
	p.logger.Info("worker added", zap.String("worker_id", w.ID()), zap.Int("workers", len(p.workers)))
	return w, true
}

// RemoveWorker stops and removes a worker, moving its waiting tasks to the
// remaining workers. It returns false when the pool is at min_workers or the
// worker is unknown.
func (p *Pool) RemoveWorker(id string) bool {
	p.mu.Lock()
	if len(p.workers) <= p.config.MinWorkers {
		p.mu.Unlock()
		p.logger.Warn("remove worker refused: pool at min", zap.Int("min_workers", p.config.MinWorkers))
		return false
	}
	idx := p.indexLocked(id)
	if idx < 0 {
		p.mu.Unlock()
		return false
	}
	w := p.workers[idx]
	p.workers = append(p.workers[:idx:idx], p.workers[idx+1:]...)
	p.mu.Unlock()

	if err := w.Stop(); err != nil {
		p.logger.Warn("worker did not stop in time", zap.String("worker_id", id), zap.Error(err))
	}
	p.reassign(w, w.Drain())

	p.logger.Info("worker removed", zap.String("worker_id", id))
	return true
}

// reassign moves tasks off a removed worker. A task keeps the capability it
// was routed by; tasks placed directly on the worker try each of its
// capabilities. Tasks no remaining worker can take fail with "worker removed".
func (p *Pool) reassign(from *Worker, tasks []*WorkerTask) {
	for _, task := range tasks {
		caps := from.Capabilities()
		if task.Capability != "" {
			caps = []string{task.Capability}
		}
		placed := false
		for _, c := range caps {
			if _, ok := p.SubmitTask(task, c); ok {
				placed = true
				break
			}
		}
		if !placed {
			from.abandon(task, "worker removed")
		}
	}
}

// ScaleTo adds or removes workers until the pool has n. Idle workers with
// the shortest queues are removed first.
func (p *Pool) ScaleTo(n int) error {
	if n < p.config.MinWorkers || n > p.config.MaxWorkers {
		return types.Errorf(types.ErrPoolBounds, "scale target %d outside [%d, %d]", n, p.config.MinWorkers, p.config.MaxWorkers)
	}

	for p.Size() < n {
		if _, ok := p.AddWorker(Spec{}); !ok {
			return types.Errorf(types.ErrPoolBounds, "cannot grow pool to %d", n)
		}
	}

	for p.Size() > n {
		victim := p.scaleDownCandidate()
		if victim == "" || !p.RemoveWorker(victim) {
			return types.Errorf(types.ErrPoolBounds, "cannot shrink pool to %d", n)
		}
	}
	return nil
}

func (p *Pool) scaleDownCandidate() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.workers) == 0 {
		return ""
	}
	candidates := append([]*Worker(nil), p.workers...)
	sort.SliceStable(candidates, func(i, j int) bool {
		ai, aj := candidates[i].State() == StateIdle, candidates[j].State() == StateIdle
		if ai != aj {
			return ai
		}
		return candidates[i].QueueSize() < candidates[j].QueueSize()
	})
	return candidates[0].ID()
}

// SubmitTask routes a task to the best worker for capability. It returns the
// chosen worker id, or false when no worker qualifies.
func (p *Pool) SubmitTask(task *WorkerTask, capability string) (string, bool) {
	w := p.selectWorker(capability)
	if w == nil {
		p.logger.Warn("no worker available", zap.String("capability", capability))
		return "", false
	}
	task.Capability = capability
	if !w.SubmitTask(task) {
		return "", false
	}
	return w.ID(), true
}

// SubmitTo enqueues a task on a specific worker.
func (p *Pool) SubmitTo(workerID string, task *WorkerTask) bool {
	w, ok := p.Worker(workerID)
	if !ok {
		return false
	}
	return w.SubmitTask(task)
}

// selectWorker picks the live worker with the smallest (queue size, priority)
// that has the capability or the general capability. Ties keep pool order.
func (p *Pool) selectWorker(capability string) *Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *Worker
	bestQueue, bestPriority := 0, 0
	for _, w := range p.workers {
		if capability != "" && !w.HasCapability(capability) {
			continue
		}
		if st := w.State(); st == StateStopped || st == StateError {
			continue
		}
		q, pr := w.QueueSize(), w.Priority()
		if best == nil || q < bestQueue || (q == bestQueue && pr < bestPriority) {
			best, bestQueue, bestPriority = w, q, pr
		}
	}
	return best
}

// Worker returns a worker by id.
func (p *Pool) Worker(id string) (*Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	idx := p.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	return p.workers[idx], true
}

// Workers returns the workers in pool order.
func (p *Pool) Workers() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Worker(nil), p.workers...)
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Status aggregates per-worker stats.
func (p *Pool) Status() PoolStatus {
	workers := p.Workers()

	st := PoolStatus{
		TotalWorkers: len(workers),
		MinWorkers:   p.config.MinWorkers,
		MaxWorkers:   p.config.MaxWorkers,
		Workers:      make([]Stats, 0, len(workers)),
	}
	for _, w := range workers {
		s := w.Stats()
		st.Workers = append(st.Workers, s)
		switch s.State {
		case StateBusy:
			st.BusyWorkers++
		case StateIdle:
			st.IdleWorkers++
		}
		st.TotalQueued += s.QueueSize
		st.TotalCompleted += s.TasksCompleted
		st.TotalFailed += s.TasksFailed
		st.TotalBusyTime += s.BusyTime
	}
	st.SuccessRate = successRate(st.TotalCompleted, st.TotalFailed)
	return st
}

func (p *Pool) indexLocked(id string) int {
	for i, w := range p.workers {
		if w.ID() == id {
			return i
		}
	}
	return -1
}
