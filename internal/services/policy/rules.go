package policy

import (
	"context"
	"fmt"
	"math"

	"SignalEngine/internal/domain/models"
	domsvc "SignalEngine/internal/domain/service"
	"SignalEngine/pkg/config"
)

// MinConfidence rejects signals scored below a floor.
type MinConfidence struct{ Min float64 }

func (MinConfidence) Name() string { return "min_confidence" }

func (r MinConfidence) Validate(_ context.Context, sig *models.StrategySignal, _ *models.StrategyContext) (domsvc.RuleResult, error) {
	if sig.Confidence < r.Min {
		return domsvc.RuleResult{Reason: fmt.Sprintf("confidence %.1f below minimum %.1f", sig.Confidence, r.Min)}, nil
	}
	return domsvc.RuleResult{Valid: true}, nil
}

// PriceSanity requires finite positive prices on the correct side of entry.
type PriceSanity struct{}

func (PriceSanity) Name() string { return "price_sanity" }

func (PriceSanity) Validate(_ context.Context, sig *models.StrategySignal, _ *models.StrategyContext) (domsvc.RuleResult, error) {
	for _, p := range []float64{sig.EntryPrice, sig.StopLoss, sig.TakeProfit} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return domsvc.RuleResult{}, fmt.Errorf("non-finite price on signal %s", sig.ID)
		}
	}
	if sig.EntryPrice <= 0 {
		return domsvc.RuleResult{Reason: "entry price must be positive"}, nil
	}
	switch sig.Type {
	case models.SignalBuy:
		if !(sig.StopLoss < sig.EntryPrice && sig.EntryPrice < sig.TakeProfit) {
			return domsvc.RuleResult{Reason: "buy levels must satisfy stop < entry < target"}, nil
		}
	case models.SignalSell:
		if !(sig.TakeProfit < sig.EntryPrice && sig.EntryPrice < sig.StopLoss) {
			return domsvc.RuleResult{Reason: "sell levels must satisfy target < entry < stop"}, nil
		}
	}
	if sig.StopLoss <= 0 && sig.Type.IsDirectional() {
		return domsvc.RuleResult{Reason: "stop loss must be positive"}, nil
	}
	return domsvc.RuleResult{Valid: true}, nil
}

// RiskReward tightens stops wider than MaxStopPct of entry and rejects
// signals whose reward/risk falls under MinRatio.
type RiskReward struct {
	MaxStopPct float64
	MinRatio   float64
}

func (RiskReward) Name() string { return "risk_reward" }

func (r RiskReward) Validate(_ context.Context, sig *models.StrategySignal, _ *models.StrategyContext) (domsvc.RuleResult, error) {
	if !sig.Type.IsDirectional() || sig.EntryPrice <= 0 {
		return domsvc.RuleResult{Valid: true}, nil
	}
	if r.MaxStopPct > 0 {
		maxDist := sig.EntryPrice * r.MaxStopPct / 100
		if math.Abs(sig.EntryPrice-sig.StopLoss) > maxDist {
			if sig.Type == models.SignalBuy {
				sig.StopLoss = sig.EntryPrice - maxDist
			} else {
				sig.StopLoss = sig.EntryPrice + maxDist
			}
			sig.SetMeta("stop_tightened", true)
		}
	}
	if rr := sig.RiskReward(); rr < r.MinRatio {
		return domsvc.RuleResult{Reason: fmt.Sprintf("risk/reward %.2f below %.2f", rr, r.MinRatio)}, nil
	}
	return domsvc.RuleResult{Valid: true}, nil
}

// DrawdownGuard blocks new directional signals while the portfolio is in deep drawdown.
type DrawdownGuard struct{ Max float64 }

func (DrawdownGuard) Name() string { return "drawdown_guard" }

func (r DrawdownGuard) Validate(_ context.Context, sig *models.StrategySignal, sc *models.StrategyContext) (domsvc.RuleResult, error) {
	if sc == nil || !sig.Type.IsDirectional() {
		return domsvc.RuleResult{Valid: true}, nil
	}
	if dd := sc.Portfolio.Drawdown; r.Max > 0 && dd >= r.Max {
		return domsvc.RuleResult{Reason: fmt.Sprintf("portfolio drawdown %.1f%% at or above limit %.1f%%", dd*100, r.Max*100)}, nil
	}
	return domsvc.RuleResult{Valid: true}, nil
}

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules(cfg config.GeneratorConfig) *Registry[domsvc.ValidationRule] {
	return NewRegistry[domsvc.ValidationRule](
		PriceSanity{},
		MinConfidence{Min: cfg.MinConfidence},
		RiskReward{MaxStopPct: cfg.MaxStopPct, MinRatio: cfg.MinRiskReward},
		DrawdownGuard{Max: cfg.MaxDrawdown},
	)
}

var (
	_ domsvc.ValidationRule = MinConfidence{}
	_ domsvc.ValidationRule = PriceSanity{}
	_ domsvc.ValidationRule = RiskReward{}
	_ domsvc.ValidationRule = DrawdownGuard{}
)
