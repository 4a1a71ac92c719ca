package repository

import (
	"context"
	"time"

	"SignalEngine/internal/domain/models"
)

type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// ConditionEvaluator is the external evaluator of opaque condition expressions.
// EvaluateBatch reports per-condition failures inside the returned results.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, cond models.ConditionExpression, ec *models.EvaluationContext) (models.ConditionEvaluationResult, error)
	EvaluateBatch(ctx context.Context, conds []models.ConditionExpression, ec *models.EvaluationContext) (map[string]models.ConditionEvaluationResult, error)
}

// StrategyRegistry supplies strategy definitions and their externally maintained contexts.
type StrategyRegistry interface {
	Strategy(id string) (models.StrategyDefinition, bool)
	StrategiesForSymbol(symbol string) []models.StrategyDefinition
	Context(id string) (models.StrategyContext, bool)
}

// SignalHistory is the bounded per-strategy signal store.
type SignalHistory interface {
	Append(strategyID string, entries ...models.SignalHistoryEntry)
	Query(strategyID string, filter models.HistoryFilter) []models.SignalHistoryEntry
	Recent(strategyID, symbol string, since time.Time) []models.StrategySignal
	Prune(now time.Time) int
}

// EventPublisher publishes engine events without blocking the caller.
type EventPublisher interface {
	Publish(kind string, payload any)
}

// SignalArchive persists generated signals beyond the in-memory window.
type SignalArchive interface {
	Archive(ctx context.Context, signals []models.StrategySignal) error
	Close() error
}

// DeadLetterSink receives terminally failed requests.
type DeadLetterSink interface {
	Push(ctx context.Context, req *models.SignalGenerationRequest, reason string, retries int) error
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordSignal(strategyID string, signalType models.SignalType)
	RecordRequest(outcome string)
	SetQueueDepth(tier string, n int)
	SetActiveBatches(n int)
	SetCacheHitRate(rate float64)
	SetHealthScore(score int)
}
