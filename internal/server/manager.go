package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 运维服务器生命周期
// =============================================================================

// Config 运维服务器配置
type Config struct {
	// Enabled 为 false 时不启动 /health /ready /status /metrics
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`

	// Addr 监听地址，":0" 表示随机端口
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`

	// ShutdownTimeout 调用方 ctx 无截止时间时的关闭上限
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig 返回默认运维服务器配置
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Addr:            ":9090",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Validate 校验配置，禁用时只要求超时非负
func (c Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"read_timeout":     c.ReadTimeout,
		"write_timeout":    c.WriteTimeout,
		"idle_timeout":     c.IdleTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be >= 0, got %s", name, d)
		}
	}
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return errors.New("addr is required when the ops server is enabled")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid addr %q: %w", c.Addr, err)
	}
	return nil
}

// State 服务器生命周期状态
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrAlreadyStarted = errors.New("ops server already started")
	ErrStopped        = errors.New("ops server is stopped")
)

// Manager owns one ops http.Server. It goes idle -> running -> stopped and
// never restarts.
type Manager struct {
	srv    *http.Server
	config Config
	logger *zap.Logger
	errCh  chan error

	mu    sync.RWMutex
	state State
	ln    net.Listener
}

// NewManager 创建运维服务器管理器，不监听端口
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		srv: &http.Server{
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config: config,
		logger: logger.With(zap.String("component", "ops_server")),
		errCh:  make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly; later serve errors arrive on Errors.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.config.Addr, err)
	}
	m.ln = ln
	m.state = StateRunning
	m.logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		err := m.srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.logger.Error("ops server exited", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}()
	return nil
}

// Shutdown drains in-flight requests. ShutdownTimeout applies when ctx has
// no deadline of its own. Calling it again, or before Start, only marks the
// manager stopped.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	m.state = StateStopped
	if prev != StateRunning {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && m.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ShutdownTimeout)
		defer cancel()
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("ops server shutdown incomplete", zap.Error(err))
		return err
	}
	m.logger.Info("ops server stopped")
	return nil
}

// Errors 返回异步服务错误，最多缓存一个
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 运行中返回实际监听地址，否则返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateRunning && m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.config.Addr
}

// State 返回当前生命周期状态
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}
