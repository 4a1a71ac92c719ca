package metrics

import (
	"SignalEngine/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signalengine"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	signalsTotal  *prometheus.CounterVec
	requestsTotal *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	activeBatches prometheus.Gauge
	cacheHitRate  prometheus.Gauge
	healthScore   prometheus.Gauge
}

// New creates a recorder registered on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of messages sent to a backend",
			},
			[]string{"backend", "key"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_price",
				Help:      "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		signalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_generated_total",
				Help:      "Signals stored to history",
			},
			[]string{"strategy", "type"},
		),
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Generation requests by outcome",
			},
			[]string{"outcome"},
		),
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "queue_depth",
				Help:      "Queued requests per priority tier",
			},
			[]string{"tier"},
		),
		activeBatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "active_batches",
			Help:      "Batches currently executing",
		}),
		cacheHitRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hit_rate",
			Help:      "Evaluation cache hit rate",
		}),
		healthScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "health_score",
			Help:      "Processor health score 0-100",
		}),
	}
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, key string) {
	r.messagesSent.WithLabelValues(backend, key).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordSignal(strategyID string, t models.SignalType) {
	r.signalsTotal.WithLabelValues(strategyID, string(t)).Inc()
}

func (r *Recorder) RecordRequest(outcome string) {
	r.requestsTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetQueueDepth(tier string, n int) {
	r.queueDepth.WithLabelValues(tier).Set(float64(n))
}

func (r *Recorder) SetActiveBatches(n int) { r.activeBatches.Set(float64(n)) }

func (r *Recorder) SetCacheHitRate(rate float64) { r.cacheHitRate.Set(rate) }

func (r *Recorder) SetHealthScore(score int) { r.healthScore.Set(float64(score)) }

// RegisterDroppedEvents exposes an event bus drop counter read through fn.
func RegisterDroppedEvents(reg prometheus.Registerer, fn func() int64) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded because a subscriber buffer was full",
		},
		func() float64 { return float64(fn()) },
	)
}
