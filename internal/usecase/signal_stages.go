package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SignalEngine/internal/domain/models"
	domsvc "SignalEngine/internal/domain/service"
	"SignalEngine/internal/service/ratelimit"
	"SignalEngine/internal/services/confidence"
	"SignalEngine/internal/services/features"
	"SignalEngine/internal/services/policy"
	"SignalEngine/pkg/logger"
)

// draft is a candidate signal with the results that produced it.
type draft struct {
	sig     *models.StrategySignal
	results []models.ConditionEvaluationResult
}

func (r *run) pipeline(ctx context.Context) error {
	r.setStage(StageEvaluate)
	r.sc = enrichContext(r.req.Context)
	ec := models.NewEvaluationContext(r.sc)

	results, err := r.evaluate(ctx, ec)
	if err != nil {
		return err
	}

	r.setStage(StageDraft)
	drafts := r.draft(results)
	if len(drafts) == 0 {
		return nil
	}

	r.setStage(StageScore)
	r.score(drafts)

	r.setStage(StageValidate)
	valid, err := r.validate(ctx, drafts)
	if err != nil {
		return err
	}

	r.setStage(StageEnhance)
	r.enhance(ctx, valid)

	r.setStage(StageResolve)
	survivors := r.resolve(ctx, valid)

	r.setStage(StageFilter)
	emitted := r.filter(survivors)

	if err := ctx.Err(); err != nil {
		return err
	}
	r.setStage(StagePersist)
	r.persist(emitted)
	return nil
}

// enrichContext copies the strategy context, filling missing indicators from
// the candle window and classifying the regime when the caller left it empty.
func enrichContext(in *models.StrategyContext) *models.StrategyContext {
	sc := *in
	if len(sc.Market.Candles) > 0 {
		sc.Indicators = features.Merge(copyIndicators(in.Indicators), features.Compute(sc.Market.Candles))
	}
	if sc.Regime == "" {
		sc.Regime = features.Regime(price(&sc), sc.Indicators)
	}
	return &sc
}

func copyIndicators(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func price(sc *models.StrategyContext) float64 {
	if sc.Market.Price > 0 {
		return sc.Market.Price
	}
	return sc.Market.LastCandle().Close
}

// evaluate resolves every condition through the cache, then the batch
// evaluator, falling back to one-by-one evaluation when the batch call fails.
func (r *run) evaluate(ctx context.Context, ec *models.EvaluationContext) (map[string]models.ConditionEvaluationResult, error) {
	g := r.g
	results := make(map[string]models.ConditionEvaluationResult, len(r.req.Conditions))
	var misses []models.ConditionExpression
	hits := 0

	for _, c := range r.req.Conditions {
		if g.cache != nil {
			if res, ok := g.cache.Get(ctx, c.ID, ec); ok {
				results[c.ID] = res
				hits++
				continue
			}
		}
		misses = append(misses, c)
	}

	if len(misses) > 0 {
		fresh, err := g.eval.EvaluateBatch(ctx, misses, ec)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.warn("batch evaluation failed, evaluating individually: %v", err)
			fresh = make(map[string]models.ConditionEvaluationResult, len(misses))
			for _, c := range misses {
				res, err := g.eval.Evaluate(ctx, c, ec)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return nil, ctxErr
					}
					res = models.ConditionEvaluationResult{ConditionID: c.ID, Error: err.Error()}
				}
				fresh[c.ID] = res
			}
		}
		for _, c := range misses {
			res, ok := fresh[c.ID]
			if !ok {
				res = models.ConditionEvaluationResult{ConditionID: c.ID, Error: "missing from evaluator response"}
			}
			res.ConditionID = c.ID
			if res.Success && g.cache != nil {
				g.cache.Set(ctx, c.ID, ec, res)
			}
			results[c.ID] = res
		}
	}

	passed, failed := 0, 0
	for _, c := range r.req.Conditions {
		res := results[c.ID]
		if !res.Success {
			r.warn("condition %s failed: %s", c.ID, res.Error)
		}
		if res.Truthy() {
			passed++
		} else {
			failed++
		}
	}
	r.update(func(out *models.SignalGenerationResult) {
		out.Metrics.ConditionsEvaluated += len(r.req.Conditions)
		out.Metrics.ConditionsPassed += passed
		out.Metrics.ConditionsFailed += failed
		out.Metrics.CacheHits += hits
	})
	return results, nil
}

// draft derives one candidate per passing condition, in condition order.
func (r *run) draft(results map[string]models.ConditionEvaluationResult) []*draft {
	g := r.g
	now := g.now()
	entry := price(r.sc)
	atr := averageTrueRange(r.sc, entry)

	var out []*draft
	for _, c := range r.req.Conditions {
		res := results[c.ID]
		if !res.Truthy() {
			continue
		}
		typ := direction(c, res, r.sc)
		if typ == "" {
			r.warn("condition %s passed without a resolvable direction", c.ID)
			continue
		}

		sig := &models.StrategySignal{
			ID:         uuid.NewString(),
			StrategyID: r.req.StrategyID,
			RequestID:  r.req.ID,
			Symbol:     r.sc.Symbol,
			Timeframe:  r.sc.Timeframe,
			Type:       typ,
			EntryPrice: g.round(entry),
			Conditions: []string{c.ID},
			Reasoning:  []string{fmt.Sprintf("condition %s passed: %s", conditionLabel(c), c.Expression)},
			Valid:      true,
			CreatedAt:  now,
		}
		switch typ {
		case models.SignalBuy:
			sig.StopLoss = g.round(entry - g.cfg.StopATRMultiple*atr)
			sig.TakeProfit = g.round(entry + g.cfg.TargetATRMultiple*atr)
		case models.SignalSell:
			sig.StopLoss = g.round(entry + g.cfg.StopATRMultiple*atr)
			sig.TakeProfit = g.round(entry - g.cfg.TargetATRMultiple*atr)
		}
		sig.SetMeta("atr", atr)
		out = append(out, &draft{sig: sig, results: []models.ConditionEvaluationResult{res}})
	}

	r.update(func(res *models.SignalGenerationResult) { res.Metrics.SignalsDrafted += len(out) })
	return out
}

func conditionLabel(c models.ConditionExpression) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// direction prefers the evaluator verdict, then the condition hint, then the
// technical picture of the context.
func direction(c models.ConditionExpression, res models.ConditionEvaluationResult, sc *models.StrategyContext) models.SignalType {
	if t := parseSignalType(string(res.Direction)); t != "" {
		return t
	}
	if s, ok := res.Value.(string); ok {
		if t := parseSignalType(s); t != "" {
			return t
		}
	}
	if t := parseSignalType(string(c.Direction)); t != "" {
		return t
	}
	return technicalDirection(sc)
}

func parseSignalType(s string) models.SignalType {
	switch models.SignalType(strings.ToUpper(strings.TrimSpace(s))) {
	case models.SignalBuy:
		return models.SignalBuy
	case models.SignalSell:
		return models.SignalSell
	case models.SignalHold:
		return models.SignalHold
	}
	return ""
}

func technicalDirection(sc *models.StrategyContext) models.SignalType {
	if rsi, ok := sc.Indicator(features.KeyRSI); ok {
		switch {
		case rsi < 30:
			return models.SignalBuy
		case rsi > 70:
			return models.SignalSell
		}
	}
	p := price(sc)
	if sma, ok := sc.Indicator(features.KeySMA); ok && p > 0 && sma > 0 {
		switch {
		case p > sma*1.001:
			return models.SignalBuy
		case p < sma*0.999:
			return models.SignalSell
		}
	}
	switch {
	case sc.Market.Change24h > 1:
		return models.SignalBuy
	case sc.Market.Change24h < -1:
		return models.SignalSell
	}
	return ""
}

func averageTrueRange(sc *models.StrategyContext, entry float64) float64 {
	if atr, ok := sc.Indicator(features.KeyATR); ok && atr > 0 {
		return atr
	}
	if atr := features.ATR(sc.Market.Candles, features.ATRPeriod); atr > 0 {
		return atr
	}
	return entry * 0.01
}

func (g *SignalGenerator) round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(g.cfg.PricePrecision).InexactFloat64()
}

func (r *run) score(drafts []*draft) {
	g := r.g
	now := g.now()
	var recent []models.StrategySignal
	if g.history != nil {
		recent = g.history.Recent(r.req.StrategyID, r.sc.Symbol, now.Add(-g.conflictW))
	}
	recent = append(recent, r.sc.RecentSignals...)

	agreeing := map[models.SignalType]int{}
	for _, d := range drafts {
		agreeing[d.sig.Type]++
	}

	scores := make([]float64, 0, len(drafts))
	for _, d := range drafts {
		b := g.scorer.Score(confidence.Input{
			Signal:   d.sig,
			Context:  r.sc,
			Results:  d.results,
			Agreeing: agreeing[d.sig.Type],
			Recent:   recent,
			Now:      now,
		})
		d.sig.Confidence = b.Final
		d.sig.Strength = confidence.Clamp(b.Normalized, 0, 1)
		d.sig.SetMeta("confidence", b)
		scores = append(scores, b.Final)
	}
	r.update(func(res *models.SignalGenerationResult) {
		res.Metrics.ConfidenceScores = append(res.Metrics.ConfidenceScores, scores...)
	})
}

// validate applies every enabled rule in order; the first failing rule rejects.
// A rule returning an error is skipped with a warning.
func (r *run) validate(ctx context.Context, drafts []*draft) ([]*models.StrategySignal, error) {
	var out []*models.StrategySignal
	rules := r.g.rules.Enabled()
next:
	for _, d := range drafts {
		for _, rule := range rules {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			verdict, err := rule.Validate(ctx, d.sig, r.sc)
			if err != nil {
				r.warn("rule %s failed on signal %s: %v", rule.Name(), d.sig.ID, err)
				continue
			}
			if !verdict.Valid {
				r.reject(d.sig, verdict.Reason, StageValidate)
				continue next
			}
		}
		out = append(out, d.sig)
	}
	return out, nil
}

// enhance runs every enabled plugin in order; plugin errors never drop a signal.
func (r *run) enhance(ctx context.Context, sigs []*models.StrategySignal) {
	plugins := r.g.enhancers.Enabled()
	for _, sig := range sigs {
		for _, p := range plugins {
			if err := p.Enhance(ctx, sig, r.sc); err != nil {
				r.warn("enhancer %s failed on signal %s: %v", p.Name(), sig.ID, err)
			}
		}
	}
}

// resolve leaves at most one signal per symbol and timeframe unless the
// configured resolver allows opposite directions to coexist.
func (r *run) resolve(ctx context.Context, sigs []*models.StrategySignal) []*models.StrategySignal {
	type groupKey struct {
		symbol string
		tf     models.Timeframe
	}
	var order []groupKey
	groups := map[groupKey][]*models.StrategySignal{}
	for _, s := range sigs {
		k := groupKey{s.Symbol, s.Timeframe}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], s)
	}

	resolver := r.resolver()
	coexist := false
	if c, ok := resolver.(domsvc.Coexister); ok {
		coexist = c.AllowsCoexistence()
	}

	var out []*models.StrategySignal
	for _, k := range order {
		group := groups[k]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}

		var res domsvc.Resolution
		if hasOpposites(group) {
			var err error
			res, err = resolver.Resolve(ctx, group)
			if err != nil {
				r.conflict(fmt.Errorf("resolver %s failed for %s: %w", resolver.Name(), k.symbol, err))
				res = policy.KeepHighest(group, policy.ReasonLowerConfidence)
			}
		} else {
			res = domsvc.Resolution{Survivors: group}
		}
		if !coexist && len(res.Survivors) > 1 {
			extra := policy.KeepHighest(res.Survivors, policy.ReasonLowerConfidence)
			res.Survivors = extra.Survivors
			res.Rejected = append(res.Rejected, extra.Rejected...)
		}

		for _, rej := range res.Rejected {
			r.reject(rej.Signal, rej.Reason, StageResolve)
		}
		out = append(out, res.Survivors...)
	}
	return out
}

func (r *run) resolver() domsvc.ConflictResolver {
	name := r.g.cfg.ConflictResolution
	if res, ok := r.g.resolvers.Get(name); ok {
		return res
	}
	if name != "" && name != policy.ResolverHighestConfidence {
		r.conflict(fmt.Errorf("conflict resolver %q is unavailable, using %s", name, policy.ResolverHighestConfidence))
	}
	return policy.HighestConfidence{}
}

func (r *run) conflict(err error) {
	r.mu.Lock()
	if !r.abandoned {
		r.addError(models.ErrorConflict, StageResolve, err)
	}
	r.mu.Unlock()
	r.g.log.Warn("conflict resolution fallback",
		logger.String("strategy_id", r.req.StrategyID),
		logger.Error(err),
	)
}

func hasOpposites(group []*models.StrategySignal) bool {
	buy, sell := false, false
	for _, s := range group {
		buy = buy || s.Type == models.SignalBuy
		sell = sell || s.Type == models.SignalSell
	}
	return buy && sell
}

// filter applies the same-direction cooldown and the per-strategy emission limit.
func (r *run) filter(sigs []*models.StrategySignal) []*models.StrategySignal {
	g := r.g
	now := g.now()
	var recent []models.StrategySignal
	if g.cfg.Cooldown > 0 && g.history != nil {
		recent = g.history.Recent(r.req.StrategyID, r.sc.Symbol, now.Add(-g.cfg.Cooldown))
	}

	var out []*models.StrategySignal
	for _, s := range sigs {
		if inCooldown(s, recent) {
			r.reject(s, "cooldown active", StageFilter)
			continue
		}
		if g.cfg.MaxSignalsPerInterval > 0 {
			capacity, rate := ratelimit.PerInterval(g.cfg.MaxSignalsPerInterval, g.cfg.SignalInterval)
			if !g.limiter.Allow(r.req.StrategyID, capacity, rate) {
				r.reject(s, "signal rate limit exceeded", StageFilter)
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func inCooldown(s *models.StrategySignal, recent []models.StrategySignal) bool {
	for i := range recent {
		if recent[i].Type == s.Type && recent[i].Timeframe == s.Timeframe {
			return true
		}
	}
	return false
}

func (r *run) reject(sig *models.StrategySignal, reason, stage string) {
	sig.Valid = false
	sig.RejectReason = reason
	if !r.update(func(res *models.SignalGenerationResult) {
		res.Rejected = append(res.Rejected, *sig)
		res.Metrics.SignalsRejected++
	}) {
		return
	}
	if r.g.pub != nil {
		r.g.pub.Publish(models.EventSignalRejected, models.SignalRejectedEvent{Signal: *sig, Reason: reason, Stage: stage})
	}
	r.g.log.Debug("signal rejected",
		logger.String("signal_id", sig.ID),
		logger.String("symbol", sig.Symbol),
		logger.String("stage", stage),
		logger.String("reason", reason),
	)
}

// persist appends emitted signals to history and publishes them. Nothing is
// written once the caller has abandoned the run.
func (r *run) persist(sigs []*models.StrategySignal) {
	g := r.g
	now := g.now()
	entries := make([]models.SignalHistoryEntry, 0, len(sigs))
	for _, s := range sigs {
		entries = append(entries, models.SignalHistoryEntry{
			Signal:      *s,
			Price:       price(r.sc),
			Regime:      r.sc.Regime,
			Conditions:  len(r.req.Conditions),
			GeneratedAt: s.CreatedAt,
			StoredAt:    now,
		})
	}

	r.mu.Lock()
	if r.abandoned {
		r.mu.Unlock()
		return
	}
	if g.history != nil && len(entries) > 0 {
		g.history.Append(r.req.StrategyID, entries...)
	}
	for _, s := range sigs {
		r.res.Signals = append(r.res.Signals, *s)
	}
	r.res.Metrics.SignalsEmitted += len(sigs)
	r.mu.Unlock()

	for _, s := range sigs {
		if g.pub != nil {
			g.pub.Publish(models.EventSignalGenerated, *s)
		}
		if g.metrics != nil {
			g.metrics.RecordSignal(s.StrategyID, s.Type)
		}
		g.log.Info("signal generated",
			logger.String("signal_id", s.ID),
			logger.String("strategy_id", s.StrategyID),
			logger.String("symbol", s.Symbol),
			logger.String("type", string(s.Type)),
			logger.Float64("confidence", s.Confidence),
		)
	}
}
