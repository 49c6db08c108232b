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

	// 链上调用延迟（毫秒）
	ChainCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chain_call_latency_ms",
			Help:    "Chain relayer and view call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(25, 2, 10), // 25ms to ~12s
		},
		[]string{"function", "status"},
	)

	// 熔断器状态 0=closed 1=open 2=half_open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0 closed, 1 open, 2 half open)",
		},
		[]string{"name"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

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

	// 账本快照持久化延迟（秒）
	LedgerSaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_save_duration_seconds",
			Help:    "Ledger snapshot persistence duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"backend", "status"},
	)

	// 账本操作结果计数
	LedgerOperationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operation_count",
			Help: "Total number of ledger operations by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: success, validation, invariant, internal
	)

	DonationAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_donation_amount_total",
			Help: "Sum of donation amounts placed in escrow",
		},
	)

	ReleasedAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_released_amount_total",
			Help: "Sum of escrow amounts released to milestones",
		},
		[]string{"path"}, // path: normal, emergency
	)

	VerificationVotes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_verification_votes_total",
			Help: "Total number of recorded verification votes",
		},
		[]string{"vote"},
	)

	RecheckQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_recheck_queue_depth",
			Help: "Release recheck tasks waiting to run",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker",
		},
		[]string{"routing_key", "status"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordChainCallLatency 记录链上调用延迟
func RecordChainCallLatency(function, status string, duration time.Duration) {
	ChainCallLatency.WithLabelValues(function, status).Observe(float64(duration.Milliseconds()))
}

func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
	RecordDBQueryDuration("slow", "", duration)
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordLedgerSave(backend string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LedgerSaveDuration.WithLabelValues(backend, status).Observe(duration.Seconds())
}

func IncrementLedgerOperation(operation, outcome string) {
	LedgerOperationCount.WithLabelValues(operation, outcome).Inc()
}

func AddDonation(amount float64) {
	DonationAmount.Add(amount)
}

func AddReleased(path string, amount float64) {
	ReleasedAmount.WithLabelValues(path).Add(amount)
}

func IncrementVerificationVote(vote string) {
	VerificationVotes.WithLabelValues(vote).Inc()
}

func IncrementOutboxPublished(routingKey, status string) {
	OutboxPublished.WithLabelValues(routingKey, status).Inc()
}
