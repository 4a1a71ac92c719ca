package usecase

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"SignalEngine/internal/domain/models"
	mid "SignalEngine/internal/middleware"
	"SignalEngine/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	windows []models.MarketDataWindow
}

func (s *recordingSink) ProcessMarketDataUpdate(_ context.Context, _ string, w models.MarketDataWindow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, w)
	return 1, nil
}

func (s *recordingSink) all() []models.MarketDataWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MarketDataWindow(nil), s.windows...)
}

func TestKafkaMarketHandlerWindowMessage(t *testing.T) {
	sink := &recordingSink{}
	h := NewKafkaMarketHandler("market.windows", mid.NewMarketPipeline(sink, nil), NewWindowBuilder(models.TF1m, 0), metrics.NewNoop())

	err := h.Handle(context.Background(), []byte(`{"symbol":"BTC-USD","timeframe":"1h","price":100.5,"change_24h":2}`))
	require.NoError(t, err)

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "BTC-USD", got[0].Symbol)
	assert.Equal(t, 100.5, got[0].Price)
	assert.Equal(t, 2.0, got[0].Change24h)
	assert.Equal(t, "market.windows", h.Topic())
}

func TestKafkaMarketHandlerTickMessage(t *testing.T) {
	sink := &recordingSink{}
	h := NewKafkaMarketHandler("ticks", mid.NewMarketPipeline(sink, nil), NewWindowBuilder(models.TF1m, 0), nil)
	ts := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC).Unix()

	err := h.Handle(context.Background(), []byte(`{"symbol":"AAPL","t":`+itoa(ts)+`,"c":190,"v":5}`))
	require.NoError(t, err)

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, 190.0, got[0].Price)
	require.Len(t, got[0].Candles, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got[0].Candles[0].OpenTime.UTC())
}

func TestKafkaMarketHandlerRejectsGarbage(t *testing.T) {
	h := NewKafkaMarketHandler("ticks", mid.NewMarketPipeline(&recordingSink{}, nil), NewWindowBuilder(models.TF1m, 0), nil)
	assert.Error(t, h.Handle(context.Background(), []byte(`{`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"symbol":"X"}`)))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
