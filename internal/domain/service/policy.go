package service

import (
	"context"

	"SignalEngine/internal/domain/models"
)

// RuleResult is the verdict of a validation rule.
type RuleResult struct {
	Valid  bool
	Reason string
}

// ValidationRule checks a drafted signal. Passing rules may adjust signal fields.
type ValidationRule interface {
	Name() string
	Validate(ctx context.Context, sig *models.StrategySignal, sc *models.StrategyContext) (RuleResult, error)
}

// Rejection names a signal dropped by a resolver and why.
type Rejection struct {
	Signal *models.StrategySignal
	Reason string
}

// Resolution is the outcome of resolving one conflict group.
type Resolution struct {
	Survivors []*models.StrategySignal
	Rejected  []Rejection
}

// ConflictResolver picks survivors among signals that disagree on one symbol/timeframe.
type ConflictResolver interface {
	Name() string
	Resolve(ctx context.Context, group []*models.StrategySignal) (Resolution, error)
}

// Coexister is implemented by resolvers that let several signals per symbol/timeframe survive.
type Coexister interface {
	AllowsCoexistence() bool
}

// EnhancementPlugin enriches a surviving signal.
type EnhancementPlugin interface {
	Name() string
	Enhance(ctx context.Context, sig *models.StrategySignal, sc *models.StrategyContext) error
}
