package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"SignalEngine/internal/domain/models"
	mid "SignalEngine/internal/middleware"
	"SignalEngine/internal/repository"
	"SignalEngine/internal/services/evalcache"
	"SignalEngine/internal/services/evaluator"
	"SignalEngine/internal/usecase"
	"SignalEngine/pkg/config"
	"SignalEngine/pkg/events"
	xhttp "SignalEngine/pkg/http"
	"SignalEngine/pkg/metrics"
	"SignalEngine/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*App, *usecase.RealtimeProcessor, *events.Bus) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Engine.Processor.DrainInterval = time.Hour

	noop := metrics.NewNoop()
	bus := events.NewBus()
	ec := evalcache.New(cfg.Engine.Cache)
	history := repository.NewMemoryHistory(cfg.Engine.Generator, nil)
	gen := usecase.NewSignalGenerator(cfg, usecase.GeneratorDeps{
		Cache:     ec,
		Evaluator: evaluator.NewRuleEvaluator(),
		History:   history,
		Publisher: bus,
		Metrics:   noop,
	})
	proc := usecase.NewRealtimeProcessor(cfg, usecase.ProcessorDeps{
		Generator:   gen,
		Registry:    repository.NewStrategyRegistry(nil),
		Publisher:   bus,
		Metrics:     noop,
		DeadLetters: repository.NewDeadLetters(queue.NewMemoryDeadLetter(10)),
		Cache:       ec,
	})

	app := New(cfg, nil, Components{
		Bus:       bus,
		Processor: proc,
		Pipeline:  mid.NewMarketPipeline(proc, noop),
		EvalCache: ec,
		History:   history,
		HTTP:      xhttp.NewServer(nil, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0)),
	})
	return app, proc, bus
}

func TestRunDrainsQueueOnShutdown(t *testing.T) {
	app, proc, bus := newTestApp(t)

	var handled atomic.Int32
	bus.Subscribe("test", func(events.Event) { handled.Add(1) },
		models.EventRequestProcessed, models.EventRequestFailed)

	_, err := proc.QueueSignalGeneration(&models.SignalGenerationRequest{
		StrategyID: "s1",
		Context: &models.StrategyContext{
			StrategyID: "s1",
			Symbol:     "BTC-USD",
			Timeframe:  models.TF1h,
			Market:     models.MarketDataWindow{Symbol: "BTC-USD", Price: 100, Timestamp: time.Now()},
			Indicators: map[string]float64{"rsi": 20},
		},
		Conditions: []models.ConditionExpression{{ID: "c1", Expression: "rsi < 30", Direction: models.SignalBuy}},
	}, 5)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}

	assert.EqualValues(t, 1, handled.Load())
	_, err = proc.QueueSignalGeneration(&models.SignalGenerationRequest{StrategyID: "s1"}, 5)
	assert.ErrorIs(t, err, models.ErrShuttingDown)
}
