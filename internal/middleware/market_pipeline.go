package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"SignalEngine/internal/domain/models"
	domrepo "SignalEngine/internal/domain/repository"
	"SignalEngine/pkg/logger"
)

// Sink is the downstream consumer of validated market windows.
type Sink interface {
	ProcessMarketDataUpdate(ctx context.Context, symbol string, window models.MarketDataWindow) (int, error)
}

// MarketPipeline sits between market-data sources and the processor. It
// validates windows, throttles each symbol and buffers windows the
// processor rejected under backpressure.
type MarketPipeline struct {
	sink     Sink
	metrics  domrepo.Metrics
	log      *logger.Logger
	maxRPS   int
	bufSize  int
	bufCh    chan models.MarketDataWindow
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

type PipelineOption func(*MarketPipeline)

// WithMaxRPS sets the max updates per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *MarketPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *MarketPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *MarketPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *MarketPipeline) { p.now = now }
}

func NewMarketPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *MarketPipeline {
	p := &MarketPipeline{
		sink:     sink,
		metrics:  metrics,
		log:      logger.Nop(),
		maxRPS:   20,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.MarketDataWindow, p.bufSize)
	return p
}

// Start launches the background flush of buffered windows.
func (p *MarketPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case w := <-p.bufCh:
				_, err := p.sink.ProcessMarketDataUpdate(ctx, w.Symbol, w)
				switch {
				case err == nil:
					backoff = 50 * time.Millisecond
				case errors.Is(err, models.ErrShuttingDown):
					return
				default:
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.recordError("pipeline_flush")
					time.Sleep(backoff)
					select {
					case p.bufCh <- w:
					default:
						p.recordError("pipeline_buffer_drop")
					}
				}
			}
		}
	}()
}

// Stop ends the background flush.
func (p *MarketPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Buffered returns how many windows wait for a retry.
func (p *MarketPipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards a window. Throttled windows are
// dropped silently; windows refused under backpressure are buffered.
func (p *MarketPipeline) Process(ctx context.Context, w models.MarketDataWindow) error {
	start := p.now()
	if err := ValidateWindow(&w); err != nil {
		p.recordError("pipeline_validate")
		return err
	}
	if !p.allow(w.Symbol, start) {
		p.recordError("pipeline_throttle")
		return nil
	}

	if _, err := p.sink.ProcessMarketDataUpdate(ctx, w.Symbol, w); err != nil {
		if !errors.Is(err, models.ErrBackpressure) {
			p.recordError("pipeline_process")
			return fmt.Errorf("pipeline downstream: %w", err)
		}
		select {
		case p.bufCh <- w:
			p.log.Debug("market window buffered", logger.String("symbol", w.Symbol), logger.Int("depth", len(p.bufCh)))
		default:
			p.recordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
	}
	return nil
}

func (p *MarketPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

// ValidateWindow checks a market window before it reaches the processor.
func ValidateWindow(w *models.MarketDataWindow) error {
	switch {
	case w == nil:
		return fmt.Errorf("window nil")
	case w.Symbol == "":
		return fmt.Errorf("symbol empty")
	case math.IsNaN(w.Price) || math.IsInf(w.Price, 0) || w.Price <= 0:
		return fmt.Errorf("%s: price invalid", w.Symbol)
	case w.Volume24h < 0:
		return fmt.Errorf("%s: negative volume", w.Symbol)
	}
	if w.Timeframe != "" && !models.IsValidTimeframe(w.Timeframe) {
		return fmt.Errorf("%s: unsupported timeframe %q", w.Symbol, w.Timeframe)
	}
	for i, c := range w.Candles {
		if c.High < c.Low || c.Volume < 0 {
			return fmt.Errorf("%s: candle %d inconsistent", w.Symbol, i)
		}
	}
	return nil
}

func (p *MarketPipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
