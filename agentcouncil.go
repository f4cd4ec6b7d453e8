// Package agentcouncil wires the protocol, worker pool, orchestrator and
// council into one System built from a config.Config.
//
// Usage:
//
//	cfg, _ := config.NewLoader().WithConfigPath("agentcouncil.yaml").Load()
//	sys, err := agentcouncil.New(cfg, agentcouncil.WithExecutor(myExecutor))
//	if err != nil { ... }
//	if err := sys.Start(ctx); err != nil { ... }
//	defer sys.Close(ctx)
//
//	id, _ := sys.Orchestrator.SubmitTask(ctx, "lint", map[string]any{"path": "./..."})
//	verdict := sys.Council.ReviewCode(ctx, diff, "go", nil)
//
// Nothing here is global: every component is owned by the System that built it.
package agentcouncil

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/BaSui01/agentcouncil/agent/council"
	"github.com/BaSui01/agentcouncil/agent/orchestrator"
	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/agent/protocol"
	"github.com/BaSui01/agentcouncil/agent/worker"
	"github.com/BaSui01/agentcouncil/config"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/internal/server"
	"github.com/BaSui01/agentcouncil/llm/ollama"
	"github.com/BaSui01/agentcouncil/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// System owns one instance of every component.
type System struct {
	Config        *config.Config
	Protocol      *protocol.Protocol
	Pool          *worker.Pool
	Orchestrator  *orchestrator.Orchestrator
	Workers       *orchestrator.WorkerBridge
	Council       *council.Council
	CouncilBridge *council.Bridge

	// Metrics is nil when metrics are disabled.
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	messages persistence.MessageStore
	tasks    persistence.TaskStore
	models   council.ModelRegistry
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

type options struct {
	logger    *zap.Logger
	executor  worker.ActionExecutor
	generator council.Generator
	models    council.ModelRegistry
	registry  *prometheus.Registry
	callbacks orchestrator.Callbacks
	messages  persistence.MessageStore
	tasks     persistence.TaskStore
}

// Option 配置 System
type Option func(*options)

// WithLogger sets the logger shared by all components.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithExecutor sets the action executor run by the worker pool. Required.
func WithExecutor(exec worker.ActionExecutor) Option {
	return func(o *options) { o.executor = exec }
}

// WithModels replaces the Ollama client with another model backend.
func WithModels(gen council.Generator, registry council.ModelRegistry) Option {
	return func(o *options) {
		o.generator = gen
		o.models = registry
	}
}

// WithPrometheusRegistry registers metrics on reg instead of a fresh registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithCallbacks sets the orchestrator task callbacks.
func WithCallbacks(cb orchestrator.Callbacks) Option {
	return func(o *options) { o.callbacks = cb }
}

// WithStores overrides the stores built from cfg.Store. A nil argument keeps
// the configured backend for that store.
func WithStores(messages persistence.MessageStore, tasks persistence.TaskStore) Option {
	return func(o *options) {
		o.messages = messages
		o.tasks = tasks
	}
}

// New validates cfg and builds every component. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (sys *System, err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.executor == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "an action executor is required")
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &System{Config: cfg, logger: logger.With(zap.String("component", "system"))}
	defer func() {
		if err != nil {
			s.closeStores()
		}
	}()

	if cfg.Metrics.Enabled {
		s.Registry = o.registry
		if s.Registry == nil {
			s.Registry = prometheus.NewRegistry()
		}
		s.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, s.Registry, logger)
	}

	s.messages = o.messages
	if s.messages == nil {
		if s.messages, err = persistence.NewMessageStore(cfg.Store); err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "failed to open message store").WithCause(err)
		}
	}
	s.tasks = o.tasks
	if s.tasks == nil {
		if s.tasks, err = persistence.NewTaskStore(cfg.Store, logger); err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "failed to open task store").WithCause(err)
		}
	}

	protoOpts := []protocol.Option{protocol.WithMetrics(s.Metrics)}
	if s.messages != nil {
		protoOpts = append(protoOpts, protocol.WithStore(s.messages))
	}
	s.Protocol = protocol.New(cfg.Protocol, logger, protoOpts...)

	if s.Pool, err = worker.NewPool(cfg.Pool, o.executor, logger, worker.WithPoolMetrics(s.Metrics)); err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithMetrics(s.Metrics),
		orchestrator.WithCallbacks(o.callbacks),
	}
	if s.tasks != nil {
		orchOpts = append(orchOpts, orchestrator.WithTaskStore(s.tasks))
	}
	if s.Orchestrator, err = orchestrator.New(cfg.Orchestrator, s.Protocol, logger, orchOpts...); err != nil {
		return nil, err
	}

	var bridgeOpts []orchestrator.BridgeOption
	for _, a := range cfg.Agents {
		if a.Pool {
			bridgeOpts = append(bridgeOpts, orchestrator.WithPoolAgent(a.ID))
		}
	}
	s.Workers = orchestrator.NewWorkerBridge(s.Pool, s.Protocol, logger, bridgeOpts...)

	gen, models := o.generator, o.models
	if gen == nil || models == nil {
		client := ollama.New(cfg.Ollama, logger)
		if gen == nil {
			gen = client
		}
		if models == nil {
			models = client
		}
	}
	s.models = models
	if s.Council, err = council.New(cfg.Council, gen, models, logger, council.WithMetrics(s.Metrics)); err != nil {
		return nil, err
	}
	s.CouncilBridge = council.NewBridge(s.Council, s.Protocol, council.DefaultAgentID, logger)

	return s, nil
}

// Start starts the workers and registers the configured agents.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrInternalError, "system is closed")
	}
	if s.started {
		return nil
	}

	s.Pool.Start()
	for _, a := range s.Config.Agents {
		if err := s.Orchestrator.RegisterAgent(ctx, a.Info()); err != nil {
			return err
		}
	}
	s.started = true

	s.logger.Info("system started",
		zap.String("version", Version),
		zap.Int("workers", s.Pool.Size()),
		zap.Int("agents", len(s.Config.Agents)),
		zap.String("supervisor", s.Orchestrator.Supervisor()),
		zap.String("strategy", s.Council.StrategyName()),
	)
	return nil
}

// Close stops accepting council requests, waits for in-flight pool tasks to
// report (bounded by ctx), stops the workers and closes the stores.
func (s *System) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	s.CouncilBridge.Close()
	if err := s.Pool.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Workers.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, s.closeStores()...)

	s.logger.Info("system stopped")
	return errors.Join(errs...)
}

func (s *System) closeStores() []error {
	var errs []error
	if s.messages != nil {
		if err := s.messages.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.tasks != nil {
		if err := s.tasks.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Status 运行状态快照
type Status struct {
	Version         string              `json:"version"`
	Orchestrator    orchestrator.Status `json:"orchestrator"`
	Pool            worker.PoolStatus   `json:"pool"`
	PendingRequests int                 `json:"pending_requests"`
	Strategy        string              `json:"strategy"`
}

// Status returns a snapshot of every component.
func (s *System) Status() Status {
	return Status{
		Version:         Version,
		Orchestrator:    s.Orchestrator.Status(),
		Pool:            s.Pool.Status(),
		PendingRequests: s.Protocol.PendingCount(),
		Strategy:        s.Council.StrategyName(),
	}
}

// OpsServer serves OpsHandler on cfg.Server.Addr. The caller starts and
// shuts it down.
func (s *System) OpsServer() *server.Manager {
	return server.NewManager(s.OpsHandler(), s.Config.Server, s.logger)
}

// OpsHandler serves /health, /ready, /status and /metrics for this System.
func (s *System) OpsHandler() http.Handler {
	checks := map[string]server.HealthCheck{
		"models": func(ctx context.Context) error {
			_, err := s.models.ListModels(ctx)
			return err
		},
	}
	if s.messages != nil {
		checks["message_store"] = s.messages.Ping
	}
	if s.tasks != nil {
		checks["task_store"] = s.tasks.Ping
	}

	var gatherer prometheus.Gatherer
	if s.Registry != nil {
		gatherer = s.Registry
	}
	return server.NewOpsHandler(server.OpsOptions{
		Gatherer: gatherer,
		Status:   func() any { return s.Status() },
		Checks:   checks,
		Metrics:  s.Metrics,
		Logger:   s.logger,
	})
}
