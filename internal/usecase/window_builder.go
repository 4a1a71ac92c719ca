package usecase

import (
	"fmt"
	"sync"
	"time"

	"SignalEngine/internal/domain/models"
)

const defaultWindowCandles = 200

// WindowBuilder folds trades into per-symbol candles of one timeframe and
// produces the market window the processor consumes.
type WindowBuilder struct {
	tf         models.Timeframe
	maxCandles int

	mu     sync.Mutex
	series map[string][]models.Candle
}

func NewWindowBuilder(tf models.Timeframe, maxCandles int) *WindowBuilder {
	if maxCandles <= 0 {
		maxCandles = defaultWindowCandles
	}
	return &WindowBuilder{tf: tf, maxCandles: maxCandles, series: make(map[string][]models.Candle)}
}

// Add applies a trade and returns the updated window for its symbol.
func (b *WindowBuilder) Add(t *models.Trade) (models.MarketDataWindow, error) {
	if t == nil || t.Symbol == "" {
		return models.MarketDataWindow{}, fmt.Errorf("trade without symbol")
	}
	if t.Price <= 0 || t.Timestamp <= 0 {
		return models.MarketDataWindow{}, fmt.Errorf("trade %s: invalid price or timestamp", t.Symbol)
	}
	at := t.Time()
	bucket := at.Truncate(b.tf.Duration())

	b.mu.Lock()
	defer b.mu.Unlock()

	cs := b.series[t.Symbol]
	switch n := len(cs); {
	case n > 0 && cs[n-1].OpenTime.Equal(bucket):
		c := &cs[n-1]
		c.High = max(c.High, t.Price)
		c.Low = min(c.Low, t.Price)
		c.Close = t.Price
		c.Volume += t.Volume
	case n == 0 || bucket.After(cs[n-1].OpenTime):
		cs = append(cs, models.Candle{OpenTime: bucket, Open: t.Price, High: t.Price, Low: t.Price, Close: t.Price, Volume: t.Volume})
		if len(cs) > b.maxCandles {
			cs = append(cs[:0:0], cs[len(cs)-b.maxCandles:]...)
		}
	default:
		// late print for a closed candle
		for i := n - 1; i >= 0; i-- {
			if cs[i].OpenTime.Equal(bucket) {
				cs[i].High = max(cs[i].High, t.Price)
				cs[i].Low = min(cs[i].Low, t.Price)
				cs[i].Volume += t.Volume
				break
			}
		}
	}
	b.series[t.Symbol] = cs

	return window(t.Symbol, b.tf, at, cs[len(cs)-1].Close, cs), nil
}

// Window returns the current window for symbol.
func (b *WindowBuilder) Window(symbol string) (models.MarketDataWindow, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := b.series[symbol]
	if len(cs) == 0 {
		return models.MarketDataWindow{}, false
	}
	last := cs[len(cs)-1]
	return window(symbol, b.tf, last.OpenTime, last.Close, cs), true
}

func window(symbol string, tf models.Timeframe, at time.Time, price float64, cs []models.Candle) models.MarketDataWindow {
	w := models.MarketDataWindow{
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: at,
		Price:     price,
		Candles:   append([]models.Candle(nil), cs...),
	}
	cutoff := at.Add(-24 * time.Hour)
	var open float64
	for _, c := range cs {
		if c.OpenTime.Before(cutoff) {
			continue
		}
		if open == 0 {
			open = c.Open
			w.High24h, w.Low24h = c.High, c.Low
		}
		w.High24h = max(w.High24h, c.High)
		w.Low24h = min(w.Low24h, c.Low)
		w.Volume24h += c.Volume
	}
	if open > 0 {
		w.Change24h = (price - open) / open * 100
	}
	return w
}
