package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SignalEngine/internal/domain/models"
	mid "SignalEngine/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu         sync.Mutex
	trades     []*models.Trade
	connected  bool
	reconnects int
	reads      int
}

func (s *fakeStream) Connect(context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Subscribe(context.Context) error { return nil }

// Read replays the trades once and then reports a stream failure.
func (s *fakeStream) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	s.mu.Lock()
	s.reads++
	first := s.reads == 1
	s.mu.Unlock()

	trCh := make(chan *models.Trade)
	errCh := make(chan error, 1)
	go func() {
		if first {
			for _, t := range s.trades {
				select {
				case trCh <- t:
				case <-ctx.Done():
					return
				}
			}
			errCh <- errors.New("connection reset")
		}
	}()
	return trCh, errCh
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStream) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func TestMarketCollectorForwardsWindowsAndReconnects(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stream := &fakeStream{trades: []*models.Trade{
		{Symbol: "AAPL", Timestamp: base.UnixMilli(), Price: 190, Volume: 1},
		{Symbol: "MSFT", Timestamp: base.UnixMilli(), Price: 400, Volume: 1},
		{Symbol: "BAD", Timestamp: base.UnixMilli(), Price: 0},
	}}
	sink := &recordingSink{}
	c := NewMarketCollector(stream, NewWindowBuilder(models.TF1m, 0), mid.NewMarketPipeline(sink, nil), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsConnected())

	assert.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return stream.reconnectCount() >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.False(t, c.IsConnected())
}
