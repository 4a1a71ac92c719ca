package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SignalEngine/internal/domain/models"
	domrepo "SignalEngine/internal/domain/repository"
	mid "SignalEngine/internal/middleware"
	pkgkafka "SignalEngine/pkg/kafka"
)

// KafkaMarketHandler consumes market data from Kafka. A message is either a
// full market window or a single tick ({symbol, t, c, v}) folded into one.
type KafkaMarketHandler struct {
	topic   string
	pipe    *mid.MarketPipeline
	builder *WindowBuilder
	metrics domrepo.Metrics
}

func NewKafkaMarketHandler(topic string, pipe *mid.MarketPipeline, builder *WindowBuilder, metrics domrepo.Metrics) *KafkaMarketHandler {
	return &KafkaMarketHandler{topic: topic, pipe: pipe, builder: builder, metrics: metrics}
}

func (h *KafkaMarketHandler) Topic() string { return h.topic }

type marketMessage struct {
	models.MarketDataWindow
	T int64   `json:"t"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

func (h *KafkaMarketHandler) Handle(ctx context.Context, b []byte) error {
	var m marketMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.recordError("consumer_unmarshal")
		return fmt.Errorf("decode market message: %w", err)
	}

	w := m.MarketDataWindow
	if w.Price == 0 && m.C > 0 {
		if m.T > 0 && m.T < 1e11 {
			m.T *= 1000
		}
		var err error
		w, err = h.builder.Add(&models.Trade{Symbol: w.Symbol, Timestamp: m.T, Price: m.C, Volume: m.V})
		if err != nil {
			h.recordError("consumer_tick")
			return err
		}
	}
	if h.metrics != nil && !w.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(w.Timestamp).Seconds())
	}

	err := h.pipe.Process(ctx, w)
	switch {
	case err == nil:
		if h.metrics != nil {
			h.metrics.RecordMessageSent("kafka", w.Symbol)
		}
		return nil
	case errors.Is(err, models.ErrBackpressure):
		// buffered by the pipeline, committing is safe
		return nil
	default:
		h.recordError("consumer_process")
		return err
	}
}

func (h *KafkaMarketHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*KafkaMarketHandler)(nil)
