package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库事务延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "driver"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 任务完成状态变更
	TaskTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_transition_count",
			Help: "Total number of task completion state changes",
		},
		[]string{"transition"}, // transition: completed, reopened, noop
	)

	// 阶段推进计数
	PhaseAdvanceCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "project_phase_advance_count",
			Help: "Total number of project phase advances by target phase",
		},
		[]string{"phase"},
	)

	// 关键词批次计数
	KeywordBatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyword_batch_count",
			Help: "Total number of keyword generation batches",
		},
		[]string{"status"}, // status: success, conflict, failed
	)

	// Outbox 发布结果计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_count",
			Help: "Total number of outbox events publish attempts",
		},
		[]string{"routing_key", "status"}, // status: sent, failed
	)

	// 消费处理结果计数
	MQHandleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_handle_count",
			Help: "Total number of consumed messages by outcome",
		},
		[]string{"routing_key", "outcome"}, // outcome: ack, requeue, dead_letter, duplicate
	)

	// 领域错误计数
	EngineErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_error_count",
			Help: "Total number of engine errors by kind",
		},
		[]string{"operation", "kind"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库操作延迟
func RecordDBQueryDuration(operation, driver string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, driver).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementTaskTransition 增加任务状态变更计数
func IncrementTaskTransition(transition string) {
	TaskTransitionCount.WithLabelValues(transition).Inc()
}

// IncrementPhaseAdvance 增加阶段推进计数
func IncrementPhaseAdvance(phase string) {
	PhaseAdvanceCount.WithLabelValues(phase).Inc()
}

// IncrementKeywordBatch 增加关键词批次计数
func IncrementKeywordBatch(status string) {
	KeywordBatchCount.WithLabelValues(status).Inc()
}

// IncrementEngineError 增加领域错误计数
func IncrementEngineError(operation, kind string) {
	EngineErrorCount.WithLabelValues(operation, kind).Inc()
}

// IncrementOutboxPublish 增加 outbox 发布计数
func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}

// IncrementMQHandle 增加消费结果计数
func IncrementMQHandle(routingKey, outcome string) {
	MQHandleCount.WithLabelValues(routingKey, outcome).Inc()
}
