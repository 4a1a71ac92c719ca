package repository

import (
	"context"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/pkg/events"
	pkgkafka "SignalEngine/pkg/kafka"
	"SignalEngine/pkg/logger"
)

// EventProducer is the producer side the publisher needs.
type EventProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// EventEnvelope is the Kafka payload of an engine event.
type EventEnvelope struct {
	Kind    string    `json:"kind"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// KafkaEventPublisher forwards bus events to a Kafka topic, keyed by symbol or
// strategy so related events stay ordered within a partition.
type KafkaEventPublisher struct {
	producer EventProducer
	topic    string
	timeout  time.Duration
	log      *logger.Logger
}

func NewKafkaEventPublisher(producer EventProducer, topic string, log *logger.Logger) *KafkaEventPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaEventPublisher{producer: producer, topic: topic, timeout: 5 * time.Second, log: log}
}

// Handle publishes one event; subscribe it on the bus.
func (p *KafkaEventPublisher) Handle(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	env := EventEnvelope{Kind: ev.Kind, Time: ev.Time, Payload: ev.Payload}
	if err := p.producer.Publish(ctx, p.topic, []byte(eventKey(ev)), env); err != nil {
		p.log.Warn("publish event failed",
			logger.String("kind", ev.Kind),
			logger.String("topic", p.topic),
			logger.Error(err),
		)
	}
}

func eventKey(ev events.Event) string {
	switch p := ev.Payload.(type) {
	case models.StrategySignal:
		return p.Symbol
	case models.SignalRejectedEvent:
		return p.Signal.Symbol
	case models.RequestEvent:
		return p.StrategyID
	case models.CacheEvictionEvent:
		return p.Key
	default:
		return ev.Kind
	}
}

var _ EventProducer = (*pkgkafka.Producer)(nil)
