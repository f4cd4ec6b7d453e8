// =============================================================================
// agentcouncil 主入口
// =============================================================================
// 编排器 + 工作池 + 模型议会，后端为 Ollama
//
// 使用方法:
//
//	agentcouncil serve                          # 启动服务
//	agentcouncil serve --config council.yaml    # 指定配置文件
//	agentcouncil vote --type security < diff    # 一轮议会投票
//	agentcouncil models                         # 列出议会可用模型
//	agentcouncil health --addr http://localhost:9090
//	agentcouncil version
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentcouncil"
	"github.com/BaSui01/agentcouncil/agent/council"
	"github.com/BaSui01/agentcouncil/config"
	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/internal/tlsutil"
	"github.com/BaSui01/agentcouncil/llm/ollama"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "vote":
		err = runVote(os.Args[2:])
	case "models":
		err = runModels(os.Args[2:])
	case "health":
		err = runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func defaultModel(cfg *config.Config) string {
	if len(cfg.Council.Models) > 0 {
		return cfg.Council.Models[0]
	}
	return ""
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	opsRPS := fs.Float64("ops-rps", 20, "Per-IP request rate for the ops endpoints")
	opsBurst := fs.Int("ops-burst", 40, "Per-IP burst for the ops endpoints")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting agentcouncil",
		zap.String("version", agentcouncil.Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger,
		telemetry.WithServiceVersion(agentcouncil.Version),
		telemetry.WithResourceAttributes(telemetry.AttrStrategy.String(cfg.Council.Strategy)),
	)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	client := ollama.New(cfg.Ollama, logger)
	exec := newModelExecutor(client, defaultModel(cfg), logger)

	sys, err := agentcouncil.New(cfg,
		agentcouncil.WithLogger(logger),
		agentcouncil.WithExecutor(exec),
		agentcouncil.WithModels(client, client),
	)
	if err != nil {
		return err
	}
	exec.bind(sys.Council)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sys.Start(ctx); err != nil {
		return err
	}

	var ops *opsServer
	if cfg.Server.Enabled {
		ops = newOpsServer(ctx, sys, cfg, *opsRPS, *opsBurst, logger)
		if err := ops.Start(); err != nil {
			closeSystem(sys, cfg, logger)
			return err
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-ops.Errors():
		logger.Error("ops server failed", zap.Error(err))
	}

	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	closeSystem(sys, cfg, logger)

	if otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
		cancel()
	}

	logger.Info("agentcouncil stopped")
	return nil
}

func closeSystem(sys *agentcouncil.System, cfg *config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pool.StopTimeout+cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := sys.Close(ctx); err != nil {
		logger.Warn("system close reported errors", zap.Error(err))
	}
}

// =============================================================================
// 🗳️ vote / models 命令
// =============================================================================

func newCouncil(cfg *config.Config, logger *zap.Logger) (*council.Council, error) {
	client := ollama.New(cfg.Ollama, logger)
	return council.New(cfg.Council, client, client, logger)
}

func runVote(args []string) error {
	fs := flag.NewFlagSet("vote", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	taskType := fs.String("type", string(council.TaskGeneral), "Task type: review, security, quality, general")
	language := fs.String("language", "", "Code language hint for review rounds")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	prompt := strings.Join(fs.Args(), " ")
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("empty prompt: pass it as arguments or on stdin")
	}

	c, err := newCouncil(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var promptContext map[string]string
	if *language != "" {
		promptContext = map[string]string{"language": *language}
	}
	result := c.Vote(ctx, prompt, council.TaskType(*taskType), promptContext)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runModels(args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	c, err := newCouncil(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Ollama.Timeout)
	defer cancel()
	for _, m := range c.AvailableModels(ctx) {
		fmt.Println(m)
	}
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9090", "Ops server address")
	fs.Parse(args)

	client := tlsutil.HTTPClient(5*time.Second, 1)
	resp, err := client.Get(strings.TrimSuffix(*addr, "/") + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Println("OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("agentcouncil %s\n", agentcouncil.Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`agentcouncil - agent orchestration with model council voting

Usage:
  agentcouncil <command> [options]

Commands:
  serve     Start the orchestrator, worker pool and ops server
  vote      Run one council round and print the result as JSON
  models    List the models the council would poll
  health    Check ops server health
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)
  --ops-rps <n>       Per-IP request rate for the ops endpoints (default 20)
  --ops-burst <n>     Per-IP burst for the ops endpoints (default 40)

Options for 'vote':
  --config <path>     Path to configuration file (YAML)
  --type <type>       review, security, quality or general (default general)
  --language <lang>   Code language hint

Environment variables use the AGENTCOUNCIL_ prefix, e.g.
  AGENTCOUNCIL_OLLAMA_BASE_URL=http://gpu-box:11434
  AGENTCOUNCIL_COUNCIL_STRATEGY=weighted

Examples:
  agentcouncil serve --config /etc/agentcouncil/config.yaml
  git diff | agentcouncil vote --type review --language go
  agentcouncil health --addr http://localhost:9090`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
