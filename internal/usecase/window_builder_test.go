package usecase

import (
	"testing"
	"time"

	"SignalEngine/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowBuilderAggregatesCandles(t *testing.T) {
	b := NewWindowBuilder(models.TF1m, 3)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	trade := func(offset time.Duration, price, vol float64) *models.Trade {
		return &models.Trade{Symbol: "AAPL", Timestamp: base.Add(offset).UnixMilli(), Price: price, Volume: vol}
	}

	_, err := b.Add(trade(0, 100, 1))
	require.NoError(t, err)
	_, err = b.Add(trade(10*time.Second, 104, 2))
	require.NoError(t, err)
	w, err := b.Add(trade(20*time.Second, 99, 1))
	require.NoError(t, err)

	require.Len(t, w.Candles, 1)
	c := w.Candles[0]
	assert.Equal(t, models.Candle{OpenTime: base, Open: 100, High: 104, Low: 99, Close: 99, Volume: 4}, c)
	assert.Equal(t, 99.0, w.Price)
	assert.InDelta(t, -1.0, w.Change24h, 1e-9)
	assert.Equal(t, 104.0, w.High24h)

	for i := 1; i <= 3; i++ {
		w, err = b.Add(trade(time.Duration(i)*time.Minute, 100+float64(i), 1))
		require.NoError(t, err)
	}
	assert.Len(t, w.Candles, 3)
	assert.Equal(t, base.Add(time.Minute), w.Candles[0].OpenTime)
}

func TestWindowBuilderLateTrade(t *testing.T) {
	b := NewWindowBuilder(models.TF1m, 10)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	_, _ = b.Add(&models.Trade{Symbol: "X", Timestamp: base.UnixMilli(), Price: 10, Volume: 1})
	_, _ = b.Add(&models.Trade{Symbol: "X", Timestamp: base.Add(time.Minute).UnixMilli(), Price: 11, Volume: 1})

	w, err := b.Add(&models.Trade{Symbol: "X", Timestamp: base.Add(30 * time.Second).UnixMilli(), Price: 12, Volume: 1})
	require.NoError(t, err)
	assert.Equal(t, 12.0, w.Candles[0].High)
	assert.Equal(t, 10.0, w.Candles[0].Close)
	assert.Equal(t, 11.0, w.Price)
}

func TestWindowBuilderRejectsInvalidTrade(t *testing.T) {
	b := NewWindowBuilder(models.TF1m, 0)
	_, err := b.Add(&models.Trade{Symbol: "X", Timestamp: 1, Price: 0})
	assert.Error(t, err)
	_, ok := b.Window("X")
	assert.False(t, ok)
}
