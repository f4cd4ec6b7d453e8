package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthCheck 单项健康检查
type HealthCheck func(ctx context.Context) error

// OpsOptions 运维端点依赖
type OpsOptions struct {
	// Gatherer 为 nil 时使用 prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
	// Status 返回可 JSON 序列化的运行状态快照
	Status func() any
	// Checks 按名称注册的就绪检查
	Checks  map[string]HealthCheck
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// NewOpsHandler 构建 /health、/ready、/status、/metrics 路由
func NewOpsHandler(opts OpsOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]string, len(opts.Checks))
		status := http.StatusOK
		for name, check := range opts.Checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		writeJSON(w, status, results, logger)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if opts.Status == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "status not available"}, logger)
			return
		}
		writeJSON(w, http.StatusOK, opts.Status(), logger)
	})

	return instrument(mux, opts.Metrics)
}

// statusRecorder 记录响应状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(next http.Handler, collector *metrics.Collector) http.Handler {
	if collector == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		collector.RecordHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}
