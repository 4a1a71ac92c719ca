package models

import "time"

// SignalType is the trading direction of a signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// IsDirectional reports whether the type is BUY or SELL.
func (t SignalType) IsDirectional() bool { return t == SignalBuy || t == SignalSell }

// Opposite returns the opposite direction; HOLD maps to itself.
func (t SignalType) Opposite() SignalType {
	switch t {
	case SignalBuy:
		return SignalSell
	case SignalSell:
		return SignalBuy
	default:
		return SignalHold
	}
}

// StrategySignal is a generated trading signal.
type StrategySignal struct {
	ID           string         `json:"id"`
	StrategyID   string         `json:"strategy_id"`
	RequestID    string         `json:"request_id,omitempty"`
	Symbol       string         `json:"symbol"`
	Timeframe    Timeframe      `json:"timeframe"`
	Type         SignalType     `json:"type"`
	Confidence   float64        `json:"confidence"` // 0..100
	Strength     float64        `json:"strength"`   // 0..1
	EntryPrice   float64        `json:"entry_price"`
	StopLoss     float64        `json:"stop_loss"`
	TakeProfit   float64        `json:"take_profit"`
	Reasoning    []string       `json:"reasoning,omitempty"`
	Conditions   []string       `json:"conditions,omitempty"`
	Valid        bool           `json:"valid"`
	RejectReason string         `json:"reject_reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RiskReward returns reward/risk distance ratio, 0 when undefined.
func (s *StrategySignal) RiskReward() float64 {
	risk := s.EntryPrice - s.StopLoss
	reward := s.TakeProfit - s.EntryPrice
	if s.Type == SignalSell {
		risk, reward = -risk, -reward
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

// SetMeta sets a metadata key, allocating the map on first use.
func (s *StrategySignal) SetMeta(key string, value any) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	s.Metadata[key] = value
}

// SignalHistoryEntry is the bounded record of a generated signal.
type SignalHistoryEntry struct {
	Signal      StrategySignal `json:"signal"`
	Price       float64        `json:"price"`
	Regime      string         `json:"regime,omitempty"`
	Conditions  int            `json:"conditions_evaluated"`
	GeneratedAt time.Time      `json:"generated_at"`
	StoredAt    time.Time      `json:"stored_at"`
}

// HistoryFilter narrows SignalHistory queries.
type HistoryFilter struct {
	Symbol        string
	Type          SignalType
	Since         time.Time
	Until         time.Time
	MinConfidence float64
	Limit         int
}

// Match reports whether an entry passes the filter.
func (f HistoryFilter) Match(e *SignalHistoryEntry) bool {
	if f.Symbol != "" && e.Signal.Symbol != f.Symbol {
		return false
	}
	if f.Type != "" && e.Signal.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && e.StoredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.StoredAt.After(f.Until) {
		return false
	}
	return e.Signal.Confidence >= f.MinConfidence
}
