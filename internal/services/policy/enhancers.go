package policy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"SignalEngine/internal/domain/models"
	domsvc "SignalEngine/internal/domain/service"
	"SignalEngine/internal/services/features"
	"SignalEngine/pkg/config"

	"github.com/shopspring/decimal"
)

// RegimeAnnotator records the market regime on the signal.
type RegimeAnnotator struct{}

func (RegimeAnnotator) Name() string { return "regime_annotator" }

func (RegimeAnnotator) Enhance(_ context.Context, sig *models.StrategySignal, sc *models.StrategyContext) error {
	if sc == nil {
		return nil
	}
	regime := sc.Regime
	if regime == "" {
		regime = features.Regime(sc.Market.Price, sc.Indicators)
	}
	sig.SetMeta("regime", regime)
	return nil
}

// PositionSizer suggests a position size risking a fixed fraction of equity,
// scaled by confidence.
type PositionSizer struct {
	RiskPerTrade float64
	Precision    int32
}

func (PositionSizer) Name() string { return "position_sizer" }

func (p PositionSizer) Enhance(_ context.Context, sig *models.StrategySignal, sc *models.StrategyContext) error {
	if sc == nil || !sig.Type.IsDirectional() || sc.Portfolio.Equity <= 0 {
		return nil
	}
	dist := math.Abs(sig.EntryPrice - sig.StopLoss)
	if dist == 0 {
		return fmt.Errorf("zero stop distance on signal %s", sig.ID)
	}
	risk := sc.Portfolio.Equity * p.RiskPerTrade * sig.Confidence / 100
	size := decimal.NewFromFloat(risk).Div(decimal.NewFromFloat(dist)).Round(p.Precision)
	sig.SetMeta("risk_amount", decimal.NewFromFloat(risk).Round(2).InexactFloat64())
	sig.SetMeta("position_size", size.InexactFloat64())
	return nil
}

// ReasoningSummary appends a one-line summary of the signal and its key indicators.
type ReasoningSummary struct{}

func (ReasoningSummary) Name() string { return "reasoning_summary" }

func (ReasoningSummary) Enhance(_ context.Context, sig *models.StrategySignal, sc *models.StrategyContext) error {
	parts := []string{fmt.Sprintf("%s %s @ %.1f%% confidence", sig.Type, sig.Symbol, sig.Confidence)}
	if sc != nil && len(sc.Indicators) > 0 {
		keys := make([]string, 0, len(sc.Indicators))
		for k := range sc.Indicators {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%.4g", k, sc.Indicators[k]))
		}
		parts = append(parts, strings.Join(kv, " "))
	}
	if rr := sig.RiskReward(); rr > 0 {
		parts = append(parts, fmt.Sprintf("r:r %.2f", rr))
	}
	summary := strings.Join(parts, "; ")
	sig.Reasoning = append(sig.Reasoning, summary)
	sig.SetMeta("summary", summary)
	return nil
}

// DefaultEnhancers returns the built-in enhancers in run order.
func DefaultEnhancers(cfg config.GeneratorConfig) *Registry[domsvc.EnhancementPlugin] {
	return NewRegistry[domsvc.EnhancementPlugin](
		RegimeAnnotator{},
		PositionSizer{RiskPerTrade: cfg.RiskPerTrade, Precision: cfg.PricePrecision},
		ReasoningSummary{},
	)
}

var (
	_ domsvc.EnhancementPlugin = RegimeAnnotator{}
	_ domsvc.EnhancementPlugin = PositionSizer{}
	_ domsvc.EnhancementPlugin = ReasoningSummary{}
)
