package models

// Request bodies and query shapes for the engine HTTP endpoints.

type GenerateRequest struct {
	StrategyID string                `json:"strategy_id" validate:"required"`
	Symbol     string                `json:"symbol"`
	Timeframe  string                `json:"timeframe" validate:"omitempty,oneof=1m 5m 15m 1h 4h 1d"`
	Conditions []ConditionExpression `json:"conditions"`
	Market     *MarketDataWindow     `json:"market"`
	Portfolio  *PortfolioSnapshot    `json:"portfolio"`
	Indicators map[string]float64    `json:"indicators"`
	Variables  map[string]any        `json:"variables"`
	Priority   int                   `json:"priority" default:"5" validate:"gte=1,lte=10"`
}

// HistoryRequest carries the filter for signal history. Time bounds are
// read separately since they accept RFC3339 or unix timestamps.
type HistoryRequest struct {
	StrategyID    string  `param:"strategyId" validate:"required"`
	Symbol        string  `query:"symbol"`
	Type          string  `query:"type" validate:"omitempty,oneof=BUY SELL HOLD"`
	MinConfidence float64 `query:"min_confidence" validate:"gte=0,lte=100"`
	Limit         int     `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type MarketUpdateRequest struct {
	Symbol    string   `param:"symbol" validate:"required"`
	Timeframe string   `json:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	Price     float64  `json:"price" validate:"gt=0"`
	High24h   float64  `json:"high_24h"`
	Low24h    float64  `json:"low_24h"`
	Volume24h float64  `json:"volume_24h" validate:"gte=0"`
	Change24h float64  `json:"change_24h"`
	Candles   []Candle `json:"candles"`
}

// QueueResponse acknowledges a queued generation request.
type QueueResponse struct {
	RequestID string `json:"request_id"`
	Priority  int    `json:"priority"`
}

// MarketUpdateResponse reports how many generation requests a window queued.
type MarketUpdateResponse struct {
	Symbol string `json:"symbol"`
	Queued int    `json:"queued"`
}
