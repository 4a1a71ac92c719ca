package usecase

import (
	"context"
	"sync"
	"time"

	"SignalEngine/internal/domain/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubEvaluator struct {
	mu       sync.Mutex
	results  map[string]models.ConditionEvaluationResult
	batchErr error
	block    bool
	batches  int
	singles  int
}

func (e *stubEvaluator) Evaluate(ctx context.Context, cond models.ConditionExpression, _ *models.EvaluationContext) (models.ConditionEvaluationResult, error) {
	e.mu.Lock()
	e.singles++
	res, ok := e.results[cond.ID]
	e.mu.Unlock()
	if !ok {
		return models.ConditionEvaluationResult{ConditionID: cond.ID, Error: "unknown condition"}, nil
	}
	return res, nil
}

func (e *stubEvaluator) EvaluateBatch(ctx context.Context, conds []models.ConditionExpression, ec *models.EvaluationContext) (map[string]models.ConditionEvaluationResult, error) {
	e.mu.Lock()
	e.batches++
	block, batchErr := e.block, e.batchErr
	e.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if batchErr != nil {
		return nil, batchErr
	}
	out := make(map[string]models.ConditionEvaluationResult, len(conds))
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range conds {
		if res, ok := e.results[c.ID]; ok {
			out[c.ID] = res
		}
	}
	return out, nil
}

func (e *stubEvaluator) calls() (batches, singles int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches, e.singles
}

type published struct {
	kind    string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(kind string, payload any) {
	p.mu.Lock()
	p.events = append(p.events, published{kind, payload})
	p.mu.Unlock()
}

func (p *recordingPublisher) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) payloads(kind string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, e := range p.events {
		if e.kind == kind {
			out = append(out, e.payload)
		}
	}
	return out
}

func passed(id string, dir models.SignalType) models.ConditionEvaluationResult {
	return models.ConditionEvaluationResult{ConditionID: id, Success: true, Value: true, Direction: dir, Confidence: 0.8}
}

func strategyContext(at time.Time, price float64) *models.StrategyContext {
	return &models.StrategyContext{
		StrategyID: "s1",
		Symbol:     "BTC-USD",
		Timeframe:  models.TF1h,
		Market:     models.MarketDataWindow{Symbol: "BTC-USD", Timeframe: models.TF1h, Timestamp: at, Price: price},
	}
}
