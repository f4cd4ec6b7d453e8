package main

import (
	"context"
	"net/http"

	"github.com/BaSui01/agentcouncil"
	"github.com/BaSui01/agentcouncil/config"
	"github.com/BaSui01/agentcouncil/internal/server"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ 运维服务器
// =============================================================================

// opsServer serves the System's ops endpoints behind the middleware chain.
type opsServer struct {
	manager *server.Manager
	logger  *zap.Logger
}

func newOpsServer(ctx context.Context, sys *agentcouncil.System, cfg *config.Config, rps float64, burst int, logger *zap.Logger) *opsServer {
	return &opsServer{
		manager: server.NewManager(opsHandler(ctx, sys.OpsHandler(), rps, burst, logger), cfg.Server, logger),
		logger:  logger,
	}
}

func opsHandler(ctx context.Context, h http.Handler, rps float64, burst int, logger *zap.Logger) http.Handler {
	return Chain(h,
		Recovery(logger),
		RequestID(),
		OTelTracing(),
		RateLimiter(ctx, rps, burst, logger),
		RequestLogger(logger),
	)
}

// Start 启动服务器（非阻塞）
func (s *opsServer) Start() error {
	if err := s.manager.Start(); err != nil {
		return err
	}
	s.logger.Info("ops server started", zap.String("addr", s.manager.Addr()))
	return nil
}

// Errors returns a nil channel on a nil server so it never fires in a select.
func (s *opsServer) Errors() <-chan error {
	if s == nil {
		return nil
	}
	return s.manager.Errors()
}

// Shutdown 优雅关闭
func (s *opsServer) Shutdown(ctx context.Context) error {
	return s.manager.Shutdown(ctx)
}
