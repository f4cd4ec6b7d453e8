// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有记录方法对 nil 接收者安全，组件可以不注入收集器。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 协议指标
	messagesTotal      *prometheus.CounterVec
	handlerErrorsTotal *prometheus.CounterVec

	// 编排器指标
	tasksDispatched *prometheus.CounterVec
	tasksQueued     prometheus.Counter
	taskOutcomes    *prometheus.CounterVec
	activeTasks     prometheus.Gauge
	queueDepth      prometheus.Gauge

	// Worker 指标
	workerTasksTotal   *prometheus.CounterVec
	workerTaskDuration *prometheus.HistogramVec
	workerQueueDepth   *prometheus.GaugeVec

	// Council 指标
	councilRounds        *prometheus.CounterVec
	councilVotes         *prometheus.HistogramVec
	councilRoundDuration *prometheus.HistogramVec
	modelCallsTotal      *prometheus.CounterVec
	modelCallDuration    *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 协议指标
	c.messagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_messages_total",
			Help:      "Total number of protocol messages sent",
		},
		[]string{"type"},
	)

	c.handlerErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_handler_errors_total",
			Help:      "Total number of failed or panicking message handlers",
		},
		[]string{"type"},
	)

	// 编排器指标
	c.tasksDispatched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_tasks_dispatched_total",
			Help:      "Total number of task dispatches, retries included",
		},
		[]string{"role"},
	)

	c.tasksQueued = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_tasks_queued_total",
			Help:      "Total number of tasks deferred to the overflow queue",
		},
	)

	c.taskOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_task_outcomes_total",
			Help:      "Task state transitions by outcome",
		},
		[]string{"outcome"}, // completed, retried, escalated, failed
	)

	c.activeTasks = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orchestrator_active_tasks",
			Help:      "Number of dispatched but unfinished tasks",
		},
	)

	c.queueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orchestrator_queue_depth",
			Help:      "Number of tasks waiting in the overflow queue",
		},
	)

	// Worker 指标
	c.workerTasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_tasks_total",
			Help:      "Total number of tasks executed by workers",
		},
		[]string{"worker_id", "status"},
	)

	c.workerTaskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_task_duration_seconds",
			Help:      "Worker task duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"worker_id"},
	)

	c.workerQueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Number of tasks waiting in a worker queue",
		},
		[]string{"worker_id"},
	)

	// Council 指标
	c.councilRounds = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "council_rounds_total",
			Help:      "Total number of council rounds",
		},
		[]string{"strategy", "decision"},
	)

	c.councilVotes = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "council_votes",
			Help:      "Number of votes collected per council round",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"strategy"},
	)

	c.councilRoundDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "council_round_duration_seconds",
			Help:      "Council round duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"strategy"},
	)

	c.modelCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "council_model_calls_total",
			Help:      "Total number of council model calls",
		},
		[]string{"model", "status"},
	)

	c.modelCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "council_model_call_duration_seconds",
			Help:      "Council model call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 📨 协议指标记录
// =============================================================================

// RecordMessage 记录一条已发送的消息
func (c *Collector) RecordMessage(msgType string) {
	if c == nil {
		return
	}
	c.messagesTotal.WithLabelValues(msgType).Inc()
}

// RecordHandlerError 记录处理器失败
func (c *Collector) RecordHandlerError(msgType string) {
	if c == nil {
		return
	}
	c.handlerErrorsTotal.WithLabelValues(msgType).Inc()
}

// =============================================================================
// 🎭 编排器指标记录
// =============================================================================

// RecordTaskDispatched 记录一次派发
func (c *Collector) RecordTaskDispatched(role string) {
	if c == nil {
		return
	}
	c.tasksDispatched.WithLabelValues(role).Inc()
}

// RecordTaskQueued 记录任务进入溢出队列
func (c *Collector) RecordTaskQueued() {
	if c == nil {
		return
	}
	c.tasksQueued.Inc()
}

// RecordTaskOutcome 记录任务状态迁移结果
func (c *Collector) RecordTaskOutcome(outcome string) {
	if c == nil {
		return
	}
	c.taskOutcomes.WithLabelValues(outcome).Inc()
}

// SetOrchestratorLoad 更新活跃任务数与队列深度
func (c *Collector) SetOrchestratorLoad(active, queued int) {
	if c == nil {
		return
	}
	c.activeTasks.Set(float64(active))
	c.queueDepth.Set(float64(queued))
}

// =============================================================================
// ⚙️ Worker 指标记录
// =============================================================================

// RecordWorkerTask 记录 Worker 执行结果
func (c *Collector) RecordWorkerTask(workerID string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	c.workerTasksTotal.WithLabelValues(workerID, status).Inc()
	c.workerTaskDuration.WithLabelValues(workerID).Observe(duration.Seconds())
}

// SetWorkerQueue 更新 Worker 队列深度
func (c *Collector) SetWorkerQueue(workerID string, depth int) {
	if c == nil {
		return
	}
	c.workerQueueDepth.WithLabelValues(workerID).Set(float64(depth))
}

// =============================================================================
// 🗳️ Council 指标记录
// =============================================================================

// RecordCouncilRound 记录一轮投票
func (c *Collector) RecordCouncilRound(strategy string, approved bool, votes int, duration time.Duration) {
	if c == nil {
		return
	}
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	c.councilRounds.WithLabelValues(strategy, decision).Inc()
	c.councilVotes.WithLabelValues(strategy).Observe(float64(votes))
	c.councilRoundDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordModelCall 记录单个模型调用，status 为 ok、error 或 timeout
func (c *Collector) RecordModelCall(model, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.modelCallsTotal.WithLabelValues(model, status).Inc()
	c.modelCallDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
