package models

import "time"

// Trade is a single print from a live market stream.
type Trade struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"t"` // unix ms
	Price     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

// Time returns the trade timestamp.
func (t *Trade) Time() time.Time { return time.UnixMilli(t.Timestamp) }
