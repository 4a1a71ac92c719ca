package usecase

import (
	"context"

	"SignalEngine/internal/domain/models"
	drepo "SignalEngine/internal/domain/repository"
	mid "SignalEngine/internal/middleware"
	"SignalEngine/pkg/logger"
)

// MarketCollector turns a live trade stream into market windows and feeds
// them through the ingress pipeline.
type MarketCollector struct {
	stream  drepo.MarketStream
	builder *WindowBuilder
	pipe    *mid.MarketPipeline
	metrics drepo.Metrics
	log     *logger.Logger
}

func NewMarketCollector(
	stream drepo.MarketStream,
	builder *WindowBuilder,
	pipe *mid.MarketPipeline,
	metrics drepo.Metrics,
	log *logger.Logger,
) *MarketCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &MarketCollector{stream: stream, builder: builder, pipe: pipe, metrics: metrics, log: log}
}

// IsConnected returns true if the market stream is connected.
func (c *MarketCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *MarketCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	go c.consume(ctx)
	return nil
}

func (c *MarketCollector) consume(ctx context.Context) {
	for {
		trCh, errCh := c.stream.Read(ctx)
		if !c.drain(ctx, trCh, errCh) {
			return
		}
		if err := c.stream.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("market stream reconnect failed", logger.Error(err))
		}
	}
}

// drain forwards trades until the stream fails; false means ctx is done.
func (c *MarketCollector) drain(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if c.metrics != nil {
				c.metrics.RecordError("stream")
			}
			c.log.Warn("market stream error", logger.Error(err))
			return true
		case t, ok := <-trCh:
			if !ok {
				return true
			}
			c.handle(ctx, t)
		}
	}
}

func (c *MarketCollector) handle(ctx context.Context, t *models.Trade) {
	w, err := c.builder.Add(t)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordError("trade_invalid")
		}
		return
	}
	if c.metrics != nil {
		c.metrics.RecordMessageSent("stream", t.Symbol)
	}
	if err := c.pipe.Process(ctx, w); err != nil {
		c.log.Debug("market window not processed", logger.String("symbol", t.Symbol), logger.Error(err))
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *MarketCollector) Shutdown(context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}
