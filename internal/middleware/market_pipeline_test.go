package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"SignalEngine/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	windows []models.MarketDataWindow
	err     error
}

func (s *fakeSink) ProcessMarketDataUpdate(_ context.Context, _ string, w models.MarketDataWindow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.windows = append(s.windows, w)
	return 1, nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	sink := &fakeSink{}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	p := NewMarketPipeline(sink, nil, WithMaxRPS(2), WithClock(clk.Now))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, models.MarketDataWindow{Symbol: "BTC-USD", Price: 100}))
	require.NoError(t, p.Process(ctx, models.MarketDataWindow{Symbol: "BTC-USD", Price: 101}))
	require.NoError(t, p.Process(ctx, models.MarketDataWindow{Symbol: "ETH-USD", Price: 10}))
	clk.now = clk.now.Add(500 * time.Millisecond)
	require.NoError(t, p.Process(ctx, models.MarketDataWindow{Symbol: "BTC-USD", Price: 102}))

	assert.Equal(t, 3, sink.count())
}

func TestPipelineRejectsInvalidWindows(t *testing.T) {
	p := NewMarketPipeline(&fakeSink{}, nil)
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, models.MarketDataWindow{Price: 1}))
	assert.Error(t, p.Process(ctx, models.MarketDataWindow{Symbol: "X", Price: -1}))
	assert.Error(t, p.Process(ctx, models.MarketDataWindow{Symbol: "X", Price: 1, Timeframe: "2m"}))
	assert.Error(t, p.Process(ctx, models.MarketDataWindow{Symbol: "X", Price: 1, Candles: []models.Candle{{High: 1, Low: 2}}}))
}

func TestPipelineBuffersOnBackpressure(t *testing.T) {
	sink := &fakeSink{err: models.ErrBackpressure}
	p := NewMarketPipeline(sink, nil, WithMaxRPS(0))

	err := p.Process(context.Background(), models.MarketDataWindow{Symbol: "X", Price: 1})
	assert.ErrorIs(t, err, models.ErrBackpressure)
	assert.Equal(t, 1, p.Buffered())

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}
