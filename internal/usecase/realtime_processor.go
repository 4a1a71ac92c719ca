package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"SignalEngine/internal/domain/models"
	drepo "SignalEngine/internal/domain/repository"
	"SignalEngine/pkg/config"
	"SignalEngine/pkg/logger"
	"SignalEngine/pkg/queue"
	"SignalEngine/pkg/scheduler"
)

// HighPriorityThreshold is the lowest priority routed to the high tier.
const HighPriorityThreshold = 8

// Generator produces signals for one request.
type Generator interface {
	GenerateSignals(ctx context.Context, req *models.SignalGenerationRequest) *models.SignalGenerationResult
}

// HitRater reports the evaluation cache hit rate.
type HitRater interface {
	HitRate() float64
}

// ProcessorDeps are the collaborators of RealtimeProcessor. DeadLetters,
// Cache, Now and HeapBytes are optional.
type ProcessorDeps struct {
	Generator   Generator
	Registry    drepo.StrategyRegistry
	Publisher   drepo.EventPublisher
	Metrics     drepo.Metrics
	DeadLetters drepo.DeadLetterSink
	Cache       HitRater
	Logger      *logger.Logger
	Now         func() time.Time
	HeapBytes   func() uint64
}

type request = queue.Item[*models.SignalGenerationRequest]

// RealtimeProcessor turns market updates into prioritized generation
// requests and dispatches them in bounded concurrent batches.
type RealtimeProcessor struct {
	cfg      config.ProcessorConfig
	gen      Generator
	registry drepo.StrategyRegistry
	pub      drepo.EventPublisher
	metrics  drepo.Metrics
	dlq      drepo.DeadLetterSink
	cache    HitRater
	log      *logger.Logger
	now      func() time.Time
	heap     func() uint64

	queue *queue.PriorityQueue[*models.SignalGenerationRequest]

	mu          sync.Mutex
	windows     map[string]models.MarketDataWindow
	active      int
	concurrency int
	batchSize   int
	emergency   bool
	health      models.HealthStatus
	records     []record
	next        int

	queued  atomic.Int64
	dropped atomic.Int64
	retried atomic.Int64
	failed  atomic.Int64
	closed  atomic.Bool

	sched     *scheduler.Group
	inflight  sync.WaitGroup
	runCtx    context.Context
	cancelRun context.CancelFunc
}

func NewRealtimeProcessor(cfg *config.Config, deps ProcessorDeps) *RealtimeProcessor {
	pc := cfg.Engine.Processor
	p := &RealtimeProcessor{
		cfg:         pc,
		gen:         deps.Generator,
		registry:    deps.Registry,
		pub:         deps.Publisher,
		metrics:     deps.Metrics,
		dlq:         deps.DeadLetters,
		cache:       deps.Cache,
		log:         deps.Logger,
		now:         deps.Now,
		heap:        deps.HeapBytes,
		queue:       queue.NewPriorityQueue[*models.SignalGenerationRequest](HighPriorityThreshold, pc.BackpressureThreshold),
		windows:     make(map[string]models.MarketDataWindow),
		concurrency: max(1, pc.MaxConcurrent),
		batchSize:   max(1, pc.BatchSize),
		records:     make([]record, 0, max(1, pc.StatsWindow)),
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.heap == nil {
		p.heap = heapInUse
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	p.health = models.HealthStatus{Healthy: true, Score: 100, CheckedAt: p.now()}
	p.runCtx, p.cancelRun = context.WithCancel(context.Background())
	return p
}

// Start launches the drain, health and metrics tickers.
func (p *RealtimeProcessor) Start(ctx context.Context) {
	p.sched = scheduler.NewGroup(ctx, p.log)
	p.sched.Every("drain", p.cfg.DrainInterval, p.drain)
	p.sched.Every("health", p.cfg.HealthCheckInterval, func(context.Context) { p.checkHealth() })
	p.sched.Every("metrics", p.cfg.MetricsInterval, func(context.Context) { p.publishMetrics() })
	p.log.Info("realtime processor started",
		logger.Int("batch_size", p.cfg.BatchSize),
		logger.Int("max_concurrent", p.cfg.MaxConcurrent),
		logger.Int("backpressure_threshold", p.queue.Capacity()),
	)
}

// ProcessMarketDataUpdate buffers the window and, when the move is significant,
// queues one request per enabled strategy trading the symbol. It returns how
// many requests were queued.
func (p *RealtimeProcessor) ProcessMarketDataUpdate(ctx context.Context, symbol string, window models.MarketDataWindow) (int, error) {
	if p.closed.Load() {
		return 0, models.ErrShuttingDown
	}
	if window.Symbol == "" {
		window.Symbol = symbol
	}
	if window.Timestamp.IsZero() {
		window.Timestamp = p.now()
	}

	p.mu.Lock()
	prev, seen := p.windows[symbol]
	p.windows[symbol] = window
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordLastPrice(symbol, window.Price)
	}

	move := 0.0
	if seen && prev.Price > 0 {
		move = math.Abs(window.Price-prev.Price) / prev.Price * 100
	}
	if p.cfg.FilteringEnabled && seen && move <= p.cfg.SignificanceThresholdPct {
		p.log.Debug("market update below significance threshold",
			logger.String("symbol", symbol),
			logger.Float64("move_pct", move),
		)
		return 0, nil
	}

	var errs []error
	queued := 0
	for _, def := range p.registry.StrategiesForSymbol(symbol) {
		if err := ctx.Err(); err != nil {
			return queued, err
		}
		sc, _ := p.registry.Context(def.ID)
		sc.StrategyID = def.ID
		sc.Symbol = symbol
		sc.Timeframe = def.Timeframe
		sc.Market = window

		req := &models.SignalGenerationRequest{
			ID:         uuid.NewString(),
			StrategyID: def.ID,
			Context:    &sc,
			Conditions: def.Conditions,
		}
		if _, err := p.QueueSignalGeneration(req, p.priority(def.Priority, move)); err != nil {
			errs = append(errs, fmt.Errorf("queue %s: %w", def.ID, err))
			continue
		}
		queued++
	}
	return queued, errors.Join(errs...)
}

// priority boosts the strategy priority on large moves, clamped to 1..10.
func (p *RealtimeProcessor) priority(base int, move float64) int {
	th := p.cfg.SignificanceThresholdPct
	if th > 0 {
		switch {
		case move >= 5*th:
			base += 2
		case move >= 2*th:
			base++
		}
	}
	return min(10, max(1, base))
}

// LastWindow returns the most recent market window buffered for symbol.
func (p *RealtimeProcessor) LastWindow(symbol string) (models.MarketDataWindow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.windows[symbol]
	return w, ok
}

// QueueSignalGeneration admits a request unless the backlog has reached the
// backpressure threshold.
func (p *RealtimeProcessor) QueueSignalGeneration(req *models.SignalGenerationRequest, priority int) (string, error) {
	if p.closed.Load() {
		return "", models.ErrShuttingDown
	}
	if req == nil {
		return "", fmt.Errorf("%w: request is nil", models.ErrInvalidRequest)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	priority = min(10, max(1, priority))
	req.Priority = priority

	var tier queue.Tier
	err := p.admit(func() (err error) {
		tier, err = p.queue.Push(request{
			Value:      req,
			Priority:   priority,
			EnqueuedAt: p.now(),
			MaxRetries: p.cfg.MaxRetries,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, queue.ErrFull) {
			p.dropped.Add(1)
			p.publish(models.EventRequestDropped, models.RequestEvent{
				RequestID: req.ID, StrategyID: req.StrategyID, Priority: priority, Reason: "backpressure",
			})
			if p.metrics != nil {
				p.metrics.RecordRequest("dropped")
			}
			p.log.Warn("request dropped",
				logger.String("request_id", req.ID),
				logger.String("strategy_id", req.StrategyID),
				logger.Int("queue_depth", p.queue.Len()),
			)
			return "", models.ErrBackpressure
		}
		return "", err
	}

	p.queued.Add(1)
	p.publish(models.EventRequestQueued, models.RequestEvent{RequestID: req.ID, StrategyID: req.StrategyID, Priority: priority})
	if p.metrics != nil {
		p.metrics.RecordRequest("queued")
	}
	p.log.Debug("request queued",
		logger.String("request_id", req.ID),
		logger.String("tier", string(tier)),
		logger.Int("priority", priority),
	)
	return req.ID, nil
}

// admit runs push under p.mu once intake is confirmed open, so an item is
// either rejected or visible to the final drain in Shutdown.
func (p *RealtimeProcessor) admit(push func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return models.ErrShuttingDown
	}
	return push()
}

// drain dispatches one batch when a concurrency slot is free.
func (p *RealtimeProcessor) drain(context.Context) {
	p.mu.Lock()
	if p.concurrency-p.active <= 0 {
		p.mu.Unlock()
		return
	}
	items := p.queue.PopN(p.batchSize)
	if len(items) == 0 {
		p.mu.Unlock()
		return
	}
	p.dispatchLocked(items, false)
	p.mu.Unlock()
}

// dispatchLocked starts a batch goroutine; p.mu must be held.
func (p *RealtimeProcessor) dispatchLocked(items []request, final bool) {
	p.active++
	p.inflight.Add(1)
	if p.metrics != nil {
		p.metrics.SetActiveBatches(p.active)
	}
	go func() {
		defer p.inflight.Done()
		defer func() {
			p.mu.Lock()
			p.active--
			active := p.active
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.SetActiveBatches(active)
			}
		}()
		p.runBatch(p.runCtx, items, final)
	}()
}

func (p *RealtimeProcessor) runBatch(ctx context.Context, items []request, final bool) {
	ev := models.BatchEvent{BatchID: uuid.NewString(), Size: len(items), Final: final}
	start := p.now()
	p.publish(models.EventBatchStarted, ev)

	var succeeded, failed atomic.Int64
	var g errgroup.Group
	for _, item := range items {
		item := item
		g.Go(func() error {
			if p.process(ctx, item, final) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	ev.Succeeded = int(succeeded.Load())
	ev.Failed = int(failed.Load())
	ev.Duration = p.now().Sub(start)
	p.publish(models.EventBatchCompleted, ev)
	if p.metrics != nil {
		p.metrics.RecordLatency("batch", ev.Duration.Seconds())
	}
	p.log.Debug("batch completed",
		logger.String("batch_id", ev.BatchID),
		logger.Int("size", ev.Size),
		logger.Int("failed", ev.Failed),
		logger.Bool("final", final),
	)
}

// process runs one request and reports whether it succeeded.
func (p *RealtimeProcessor) process(ctx context.Context, item request, final bool) bool {
	req := item.Value
	start := p.now()
	res := p.gen.GenerateSignals(ctx, req)
	latency := p.now().Sub(start)
	p.record(record{at: p.now(), latency: latency, ok: res.Success, signals: len(res.Signals)})

	if res.Success {
		p.publish(models.EventRequestProcessed, models.RequestEvent{
			RequestID: req.ID, StrategyID: req.StrategyID, Priority: item.Priority, Retries: item.Retries,
		})
		if p.metrics != nil {
			p.metrics.RecordRequest("processed")
		}
		return true
	}

	reason := "generation failed"
	if err := res.FirstError(); err != nil {
		reason = err.Error()
	}
	if res.Retryable() && item.Retries < item.MaxRetries && !final {
		retry := item
		retry.Retries++
		retry.Priority = max(1, item.Priority-1)
		retry.EnqueuedAt = p.now()
		err := p.admit(func() error {
			retry.Value.Priority = retry.Priority
			return p.queue.PushRegular(retry)
		})
		if err == nil {
			p.retried.Add(1)
			p.publish(models.EventRequestRetry, models.RequestEvent{
				RequestID: req.ID, StrategyID: req.StrategyID, Priority: retry.Priority, Retries: retry.Retries, Reason: reason,
			})
			if p.metrics != nil {
				p.metrics.RecordRequest("retried")
			}
			return false
		}
		reason = "retry rejected: " + err.Error()
	}

	p.failed.Add(1)
	p.publish(models.EventRequestFailed, models.RequestEvent{
		RequestID: req.ID, StrategyID: req.StrategyID, Priority: item.Priority, Retries: item.Retries, Reason: reason,
	})
	if p.metrics != nil {
		p.metrics.RecordRequest("failed")
	}
	p.log.Warn("request failed",
		logger.String("request_id", req.ID),
		logger.String("strategy_id", req.StrategyID),
		logger.Int("retries", item.Retries),
		logger.String("reason", reason),
	)
	if p.dlq != nil {
		if err := p.dlq.Push(context.WithoutCancel(ctx), req, reason, item.Retries); err != nil {
			p.log.Error("dead letter push failed", logger.String("request_id", req.ID), logger.Error(err))
		}
	}
	return false
}

func (p *RealtimeProcessor) publish(kind string, payload any) {
	if p.pub != nil {
		p.pub.Publish(kind, payload)
	}
}

// Shutdown stops intake and the tickers, runs everything still queued as one
// final batch and waits for in-flight batches or ctx, whichever comes first.
func (p *RealtimeProcessor) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.sched != nil {
		p.sched.Stop()
	}

	p.mu.Lock()
	if items := p.queue.Drain(); len(items) > 0 {
		p.log.Info("processing final batch", logger.Int("size", len(items)))
		p.dispatchLocked(items, true)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	defer p.cancelRun()

	select {
	case <-done:
		p.log.Info("realtime processor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("processor shutdown: %w", ctx.Err())
	}
}
