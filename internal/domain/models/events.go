package models

import "time"

// Event kinds published on the engine bus.
const (
	EventRequestQueued    = "request.queued"
	EventRequestProcessed = "request.processed"
	EventRequestRetry     = "request.retry"
	EventRequestFailed    = "request.failed"
	EventRequestDropped   = "request.dropped"
	EventBatchStarted     = "batch.started"
	EventBatchCompleted   = "batch.completed"
	EventSignalGenerated  = "signal.generated"
	EventSignalRejected   = "signal.rejected"
	EventMetricsUpdated   = "metrics.updated"
	EventHealthCheck      = "health.check"
	EventCacheEviction    = "cache.eviction"
)

type RequestEvent struct {
	RequestID  string `json:"request_id"`
	StrategyID string `json:"strategy_id"`
	Priority   int    `json:"priority"`
	Retries    int    `json:"retries"`
	Reason     string `json:"reason,omitempty"`
}

type BatchEvent struct {
	BatchID   string        `json:"batch_id"`
	Size      int           `json:"size"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Final     bool          `json:"final"`
}

type SignalRejectedEvent struct {
	Signal StrategySignal `json:"signal"`
	Reason string         `json:"reason"`
	Stage  string         `json:"stage"`
}

type CacheEvictionEvent struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// HealthStatus is the processor self-assessment.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Score     int       `json:"score"`
	Issues    []string  `json:"issues"`
	Emergency bool      `json:"emergency"`
	CheckedAt time.Time `json:"checked_at"`
}

// ProcessingStats aggregates processor activity over a period.
type ProcessingStats struct {
	Period            time.Duration `json:"period"`
	RequestsProcessed int           `json:"requests_processed"`
	RequestsSucceeded int           `json:"requests_succeeded"`
	RequestsFailed    int           `json:"requests_failed"`
	SignalsGenerated  int           `json:"signals_generated"`
	AvgLatency        time.Duration `json:"avg_latency"`
	P95Latency        time.Duration `json:"p95_latency"`
	ThroughputPerMin  float64       `json:"throughput_per_min"`
	ErrorRate         float64       `json:"error_rate"`
	QueuedHigh        int           `json:"queued_high"`
	QueuedRegular     int           `json:"queued_regular"`
	ActiveBatches     int           `json:"active_batches"`
	TotalQueued       int64         `json:"total_queued"`
	TotalDropped      int64         `json:"total_dropped"`
	TotalRetried      int64         `json:"total_retried"`
	TotalFailed       int64         `json:"total_failed"`
	CacheHitRate      float64       `json:"cache_hit_rate"`
	Emergency         bool          `json:"emergency"`
}
