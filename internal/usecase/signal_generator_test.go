package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"SignalEngine/internal/domain/models"
	domsvc "SignalEngine/internal/domain/service"
	"SignalEngine/internal/repository"
	"SignalEngine/internal/services/evalcache"
	"SignalEngine/internal/services/policy"
	"SignalEngine/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type generatorFixture struct {
	gen     *SignalGenerator
	eval    *stubEvaluator
	pub     *recordingPublisher
	history *repository.MemoryHistory
	clk     *clock
}

func newGeneratorFixture(t *testing.T, mutate func(cfg *config.Config)) *generatorFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Generator.MinConfidence = 0
	if mutate != nil {
		mutate(cfg)
	}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	f := &generatorFixture{
		eval:    &stubEvaluator{results: map[string]models.ConditionEvaluationResult{}},
		pub:     &recordingPublisher{},
		history: repository.NewMemoryHistory(cfg.Engine.Generator, clk.Now),
		clk:     clk,
	}
	f.gen = NewSignalGenerator(cfg, GeneratorDeps{
		Cache:     evalcache.New(cfg.Engine.Cache, evalcache.WithClock(clk.Now)),
		Evaluator: f.eval,
		History:   f.history,
		Publisher: f.pub,
		Now:       clk.Now,
	})
	return f
}

func (f *generatorFixture) request(conds ...models.ConditionExpression) *models.SignalGenerationRequest {
	return &models.SignalGenerationRequest{
		ID:         "req-1",
		StrategyID: "s1",
		Context:    strategyContext(f.clk.Now(), 100),
		Conditions: conds,
	}
}

func TestGenerateSignalsRejectsInvalidRequest(t *testing.T) {
	f := newGeneratorFixture(t, nil)

	res := f.gen.GenerateSignals(context.Background(), &models.SignalGenerationRequest{StrategyID: "s1"})

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, models.ErrorValidation, res.Errors[0].Kind)
	assert.ErrorIs(t, res.FirstError(), models.ErrInvalidRequest)
	assert.False(t, res.Retryable())
	batches, singles := f.eval.calls()
	assert.Zero(t, batches+singles)
}

func TestGenerateSignalsEmitsBestOfSameDirection(t *testing.T) {
	f := newGeneratorFixture(t, nil)
	f.eval.results["c1"] = passed("c1", models.SignalBuy)
	f.eval.results["c2"] = passed("c2", models.SignalBuy)

	res := f.gen.GenerateSignals(context.Background(), f.request(
		models.ConditionExpression{ID: "c1", Expression: "rsi < 30"},
		models.ConditionExpression{ID: "c2", Expression: "price > sma_20"},
	))

	require.True(t, res.Success, res.Errors)
	require.Len(t, res.Signals, 1)
	sig := res.Signals[0]
	assert.Equal(t, models.SignalBuy, sig.Type)
	assert.Equal(t, []string{"c1"}, sig.Conditions)
	assert.Equal(t, 100.0, sig.EntryPrice)
	assert.Equal(t, 98.0, sig.StopLoss)
	assert.Equal(t, 103.0, sig.TakeProfit)
	assert.True(t, sig.Confidence >= 0 && sig.Confidence <= 100)
	assert.True(t, sig.Valid)

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, policy.ReasonLowerConfidence, res.Rejected[0].RejectReason)

	m := res.Metrics
	assert.Equal(t, 2, m.ConditionsEvaluated)
	assert.Equal(t, 2, m.ConditionsPassed)
	assert.Equal(t, 2, m.SignalsDrafted)
	assert.Equal(t, 1, m.SignalsRejected)
	assert.Equal(t, 1, m.SignalsEmitted)
	assert.Len(t, m.ConfidenceScores, 2)

	assert.Equal(t, 1, f.pub.count(models.EventSignalGenerated))
	assert.Equal(t, 1, f.pub.count(models.EventSignalRejected))
	assert.Len(t, f.gen.SignalHistory("s1", models.HistoryFilter{}), 1)
}

func TestResolveConflictKeepsHigherConfidence(t *testing.T) {
	f := newGeneratorFixture(t, nil)
	req := f.request(models.ConditionExpression{ID: "c1"})
	r := &run{g: f.gen, req: req, sc: req.Context, res: &models.SignalGenerationResult{}}

	buy := &models.StrategySignal{ID: "b", Symbol: "BTC-USD", Timeframe: models.TF1h, Type: models.SignalBuy, Confidence: 70, Valid: true}
	sell := &models.StrategySignal{ID: "s", Symbol: "BTC-USD", Timeframe: models.TF1h, Type: models.SignalSell, Confidence: 55, Valid: true}
	other := &models.StrategySignal{ID: "e", Symbol: "ETH-USD", Timeframe: models.TF1h, Type: models.SignalSell, Confidence: 40, Valid: true}

	out := r.resolve(context.Background(), []*models.StrategySignal{buy, sell, other})

	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "e", out[1].ID)
	require.Len(t, r.res.Rejected, 1)
	assert.Equal(t, "s", r.res.Rejected[0].ID)
	assert.Equal(t, policy.ReasonLowerConfidence, r.res.Rejected[0].RejectReason)
	assert.False(t, r.res.Rejected[0].Valid)

	ev := f.pub.payloads(models.EventSignalRejected)
	require.Len(t, ev, 1)
	assert.Equal(t, StageResolve, ev[0].(models.SignalRejectedEvent).Stage)
}

type failingResolver struct{}

func (failingResolver) Name() string { return "broken" }

func (failingResolver) Resolve(context.Context, []*models.StrategySignal) (domsvc.Resolution, error) {
	return domsvc.Resolution{}, errors.New("resolver down")
}

func TestResolveFallsBackWhenResolverFails(t *testing.T) {
	f := newGeneratorFixture(t, func(cfg *config.Config) {
		cfg.Engine.Generator.ConflictResolution = "broken"
	})
	require.NoError(t, f.gen.Resolvers().Register(failingResolver{}))
	req := f.request(models.ConditionExpression{ID: "c1"})
	r := &run{g: f.gen, req: req, sc: req.Context, res: &models.SignalGenerationResult{}}

	out := r.resolve(context.Background(), []*models.StrategySignal{
		{ID: "s", Symbol: "BTC-USD", Type: models.SignalSell, Confidence: 55},
		{ID: "b", Symbol: "BTC-USD", Type: models.SignalBuy, Confidence: 70},
	})

	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
	require.Len(t, r.res.Errors, 1)
	assert.Equal(t, models.ErrorConflict, r.res.Errors[0].Kind)
	assert.False(t, r.fatal)
}

func TestResolveCoexistKeepsBothDirections(t *testing.T) {
	f := newGeneratorFixture(t, func(cfg *config.Config) {
		cfg.Engine.Generator.ConflictResolution = policy.ResolverCoexist
	})
	req := f.request(models.ConditionExpression{ID: "c1"})
	r := &run{g: f.gen, req: req, sc: req.Context, res: &models.SignalGenerationResult{}}

	out := r.resolve(context.Background(), []*models.StrategySignal{
		{ID: "b", Symbol: "BTC-USD", Type: models.SignalBuy, Confidence: 70},
		{ID: "s", Symbol: "BTC-USD", Type: models.SignalSell, Confidence: 55},
	})

	assert.Len(t, out, 2)
	assert.Empty(t, r.res.Rejected)
}

type erroringRule struct{}

func (erroringRule) Name() string { return "erroring_rule" }

func (erroringRule) Validate(context.Context, *models.StrategySignal, *models.StrategyContext) (domsvc.RuleResult, error) {
	return domsvc.RuleResult{}, errors.New("rule store offline")
}

type erroringEnhancer struct{}

func (erroringEnhancer) Name() string { return "erroring_enhancer" }

func (erroringEnhancer) Enhance(context.Context, *models.StrategySignal, *models.StrategyContext) error {
	return errors.New("annotator offline")
}

func TestGenerateSignalsSkipsErroringRuleAndEnhancer(t *testing.T) {
	f := newGeneratorFixture(t, nil)
	require.NoError(t, f.gen.Rules().Register(erroringRule{}))
	require.NoError(t, f.gen.Enhancers().Register(erroringEnhancer{}))
	f.eval.results["c1"] = passed("c1", models.SignalBuy)

	res := f.gen.GenerateSignals(context.Background(), f.request(models.ConditionExpression{ID: "c1"}))

	assert.True(t, res.Success, res.Errors)
	require.Len(t, res.Signals, 1)
	assert.Empty(t, res.Rejected)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "erroring_rule")
	assert.Contains(t, res.Warnings[1], "erroring_enhancer")
	assert.Equal(t, 1, f.pub.count(models.EventSignalGenerated))
}

func TestGenerateSignalsConditionFailureIsWarning(t *testing.T) {
	f := newGeneratorFixture(t, nil)
	f.eval.results["c1"] = passed("c1", models.SignalSell)
	f.eval.results["c2"] = models.ConditionEvaluationResult{ConditionID: "c2", Error: "boom"}

	res := f.gen.GenerateSignals(context.Background(), f.request(
		models.ConditionExpression{ID: "c1"},
		models.ConditionExpression{ID: "c2"},
	))

	assert.True(t, res.Success)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, models.SignalSell, res.Signals[0].Type)
	assert.Greater(t, res.Signals[0].StopLoss, res.Signals[0].EntryPrice)
	assert.Equal(t, 1, res.Metrics.ConditionsFailed)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "c2")
}

func TestGenerateSignalsFallsBackToSingleEvaluation(t *testing.T) {
	f := newGeneratorFixture(t, nil)
	f.eval.batchErr = errors.New("batch endpoint unavailable")
	f.eval.results["c1"] = passed("c1", models.SignalBuy)

	res := f.gen.GenerateSignals(context.Background(), f.request(models.ConditionExpression{ID: "c1"}))

	assert.True(t, res.Success)
	assert.Len(t, res.Signals, 1)
	batches, singles := f.eval.calls()
	assert.Equal(t, 1, batches)
	assert.Equal(t, 1, singles)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "batch evaluation failed"))
}

func TestGenerateSignalsUsesEvaluationCache(t *testing.T) {
	f := newGeneratorFixture(t, nil)
	f.eval.results["c1"] = passed("c1", models.SignalBuy)
	cond := models.ConditionExpression{ID: "c1"}

	first := f.gen.GenerateSignals(context.Background(), f.request(cond))
	second := f.gen.GenerateSignals(context.Background(), f.request(cond))

	assert.Zero(t, first.Metrics.CacheHits)
	assert.Equal(t, 1, second.Metrics.CacheHits)
	batches, _ := f.eval.calls()
	assert.Equal(t, 1, batches)
}

func TestGenerateSignalsTimeout(t *testing.T) {
	f := newGeneratorFixture(t, func(cfg *config.Config) {
		cfg.Engine.Generator.GenerationTimeout = 20 * time.Millisecond
	})
	f.eval.block = true

	res := f.gen.GenerateSignals(context.Background(), f.request(models.ConditionExpression{ID: "c1"}))

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	last := res.Errors[len(res.Errors)-1]
	assert.Equal(t, models.ErrorTimeout, last.Kind)
	assert.ErrorIs(t, &last, models.ErrGenerationTimeout)
	assert.True(t, res.Retryable())
	assert.Empty(t, res.Signals)
	assert.Empty(t, f.gen.SignalHistory("s1", models.HistoryFilter{}))
}

func TestGenerateSignalsHonoursRequestDeadline(t *testing.T) {
	f := newGeneratorFixture(t, nil)
	f.eval.block = true
	req := f.request(models.ConditionExpression{ID: "c1"})
	req.Deadline = time.Now().Add(20 * time.Millisecond)

	res := f.gen.GenerateSignals(context.Background(), req)

	require.NotEmpty(t, res.Errors)
	assert.Equal(t, models.ErrorTimeout, res.Errors[len(res.Errors)-1].Kind)
}

func TestGenerateSignalsCooldown(t *testing.T) {
	f := newGeneratorFixture(t, func(cfg *config.Config) {
		cfg.Engine.Generator.Cooldown = time.Hour
	})
	f.eval.results["c1"] = passed("c1", models.SignalBuy)
	cond := models.ConditionExpression{ID: "c1"}

	first := f.gen.GenerateSignals(context.Background(), f.request(cond))
	f.clk.Advance(10 * time.Minute)
	second := f.gen.GenerateSignals(context.Background(), f.request(cond))

	assert.Len(t, first.Signals, 1)
	assert.Empty(t, second.Signals)
	require.Len(t, second.Rejected, 1)
	assert.Equal(t, "cooldown active", second.Rejected[0].RejectReason)
}

func TestGenerateSignalsRateLimit(t *testing.T) {
	f := newGeneratorFixture(t, func(cfg *config.Config) {
		cfg.Engine.Generator.MaxSignalsPerInterval = 1
		cfg.Engine.Generator.SignalInterval = time.Hour
	})
	f.eval.results["c1"] = passed("c1", models.SignalBuy)
	f.eval.results["c2"] = passed("c2", models.SignalSell)

	first := f.gen.GenerateSignals(context.Background(), f.request(models.ConditionExpression{ID: "c1"}))
	second := f.gen.GenerateSignals(context.Background(), f.request(models.ConditionExpression{ID: "c2"}))

	assert.Len(t, first.Signals, 1)
	assert.Empty(t, second.Signals)
	require.Len(t, second.Rejected, 1)
	assert.Equal(t, "signal rate limit exceeded", second.Rejected[0].RejectReason)
}

func TestGenerateSignalsMinConfidenceRejects(t *testing.T) {
	f := newGeneratorFixture(t, func(cfg *config.Config) {
		cfg.Engine.Generator.MinConfidence = 100
	})
	f.eval.results["c1"] = passed("c1", models.SignalBuy)

	res := f.gen.GenerateSignals(context.Background(), f.request(models.ConditionExpression{ID: "c1"}))

	assert.True(t, res.Success)
	assert.Empty(t, res.Signals)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, f.pub.count(models.EventSignalRejected))
}

func TestTechnicalDirection(t *testing.T) {
	tests := []struct {
		name string
		ind  map[string]float64
		chg  float64
		want models.SignalType
	}{
		{"oversold", map[string]float64{"rsi": 25}, 0, models.SignalBuy},
		{"overbought", map[string]float64{"rsi": 75}, 0, models.SignalSell},
		{"above sma", map[string]float64{"rsi": 50, "sma_20": 90}, 0, models.SignalBuy},
		{"below sma", map[string]float64{"sma_20": 110}, 0, models.SignalSell},
		{"momentum", nil, 2.5, models.SignalBuy},
		{"flat", map[string]float64{"sma_20": 100}, 0.2, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sc := strategyContext(time.Unix(0, 0), 100)
			sc.Indicators = tt.ind
			sc.Market.Change24h = tt.chg
			assert.Equal(t, tt.want, technicalDirection(sc))
		})
	}
}
