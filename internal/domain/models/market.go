package models

import "time"

// Candle represents an OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// MarketDataWindow is the market snapshot pushed by a market-data source.
type MarketDataWindow struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	High24h   float64   `json:"high_24h"`
	Low24h    float64   `json:"low_24h"`
	Volume24h float64   `json:"volume_24h"`
	Change24h float64   `json:"change_24h"` // percent
	Candles   []Candle  `json:"candles,omitempty"`
}

// LastCandle returns the most recent candle, or a synthetic one built from the price.
func (w *MarketDataWindow) LastCandle() Candle {
	if len(w.Candles) > 0 {
		return w.Candles[len(w.Candles)-1]
	}
	return Candle{OpenTime: w.Timestamp, Open: w.Price, High: w.Price, Low: w.Price, Close: w.Price}
}

// PortfolioSnapshot is the read-only risk summary supplied by the portfolio collaborator.
type PortfolioSnapshot struct {
	Equity        float64 `json:"equity"`
	Exposure      float64 `json:"exposure"`   // fraction of equity deployed, 0..1
	Drawdown      float64 `json:"drawdown"`   // current drawdown, 0..1
	Volatility    float64 `json:"volatility"` // annualized portfolio volatility
	OpenPositions int     `json:"open_positions"`
}

// StrategyContext is the full state a strategy needs to generate signals.
type StrategyContext struct {
	StrategyID    string             `json:"strategy_id"`
	Symbol        string             `json:"symbol"`
	Timeframe     Timeframe          `json:"timeframe"`
	Market        MarketDataWindow   `json:"market"`
	Indicators    map[string]float64 `json:"indicators,omitempty"`
	Portfolio     PortfolioSnapshot  `json:"portfolio"`
	RecentSignals []StrategySignal   `json:"recent_signals,omitempty"`
	Regime        string             `json:"regime,omitempty"`
	Variables     map[string]any     `json:"variables,omitempty"`
}

// Indicator returns the named indicator value if present.
func (c *StrategyContext) Indicator(name string) (float64, bool) {
	if c == nil || c.Indicators == nil {
		return 0, false
	}
	v, ok := c.Indicators[name]
	return v, ok
}

// FloatVar reads a numeric strategy variable.
func (c *StrategyContext) FloatVar(name string) (float64, bool) {
	if c == nil || c.Variables == nil {
		return 0, false
	}
	switch v := c.Variables[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// EvaluationContext is the snapshot handed to the condition evaluator.
type EvaluationContext struct {
	Timestamp  time.Time          `json:"timestamp"`
	Symbol     string             `json:"symbol"`
	Timeframe  Timeframe          `json:"timeframe"`
	Current    Candle             `json:"current"`
	History    []Candle           `json:"history,omitempty"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Variables  map[string]any     `json:"variables,omitempty"`
}

// NewEvaluationContext builds an evaluation context from a strategy context.
func NewEvaluationContext(sc *StrategyContext) *EvaluationContext {
	ts := sc.Market.Timestamp
	if ts.IsZero() {
		ts = sc.Market.LastCandle().OpenTime
	}
	return &EvaluationContext{
		Timestamp:  ts,
		Symbol:     sc.Symbol,
		Timeframe:  sc.Timeframe,
		Current:    sc.Market.LastCandle(),
		History:    sc.Market.Candles,
		Indicators: sc.Indicators,
		Variables:  sc.Variables,
	}
}
