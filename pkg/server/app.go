package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalEngine/internal/domain/models"
	mid "SignalEngine/internal/middleware"
	"SignalEngine/internal/repository"
	"SignalEngine/internal/services/evalcache"
	"SignalEngine/internal/usecase"
	"SignalEngine/pkg/cache"
	pkgch "SignalEngine/pkg/clickhouse"
	"SignalEngine/pkg/config"
	"SignalEngine/pkg/events"
	xhttp "SignalEngine/pkg/http"
	pkgkafka "SignalEngine/pkg/kafka"
	"SignalEngine/pkg/logger"
	"SignalEngine/pkg/scheduler"
)

const historyPruneInterval = time.Hour

// Components are the long-lived parts the App starts and stops. Optional
// infrastructure (collector, Kafka, ClickHouse, Redis) is nil when disabled.
type Components struct {
	Bus       *events.Bus
	Processor *usecase.RealtimeProcessor
	Pipeline  *mid.MarketPipeline
	EvalCache *evalcache.Cache
	History   *repository.MemoryHistory
	HTTP      *xhttp.Server

	Collector  *usecase.MarketCollector
	Consumer   *pkgkafka.Consumer
	Handler    pkgkafka.MessageHandler
	Producer   *pkgkafka.Producer
	Publisher  *repository.KafkaEventPublisher
	ClickHouse *pkgch.Client
	Archive    *repository.ClickHouseSignalArchive
	Redis      *cache.RedisCache
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg   *config.Config
	log   *logger.Logger
	c     Components
	sched *scheduler.Group
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *logger.Logger, c Components) *App {
	if log == nil {
		log = logger.Nop()
	}
	return &App{cfg: cfg, log: log, c: c}
}

// Run starts every component and blocks until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(err, a.shutdown(shutdownCtx))
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.shutdown(shutdownCtx)
}

func (a *App) start(ctx context.Context) error {
	if a.c.Archive != nil {
		a.c.Bus.Subscribe("clickhouse_archive", a.c.Archive.Handle, models.EventSignalGenerated)
		a.c.Archive.Start()
		a.log.Info("signal archive started", logger.String("database", a.cfg.ClickHouse.Database))
	}
	if a.c.Publisher != nil {
		a.c.Bus.Subscribe("kafka_events", a.c.Publisher.Handle,
			models.EventSignalGenerated,
			models.EventSignalRejected,
			models.EventRequestFailed,
			models.EventRequestDropped,
			models.EventHealthCheck,
		)
		a.log.Info("event publisher started", logger.String("topic", a.cfg.Kafka.EventsTopic))
	}

	a.c.Processor.Start(ctx)
	a.c.Pipeline.Start(ctx)

	a.sched = scheduler.NewGroup(ctx, a.log)
	a.sched.Every("history_prune", historyPruneInterval, func(context.Context) {
		if n := a.c.History.Prune(time.Now()); n > 0 {
			a.log.Debug("signal history pruned", logger.Int("entries", n))
		}
	})

	if a.c.Collector != nil {
		if err := a.c.Collector.Start(ctx); err != nil {
			return fmt.Errorf("market collector: %w", err)
		}
		a.log.Info("market collector started", logger.Strings("symbols", a.cfg.Finnhub.Symbols))
	}

	if a.c.Consumer != nil && a.c.Handler != nil {
		a.c.Consumer.RegisterHandler(a.c.Handler)
		a.c.Consumer.OnError(func(topic string, _ []byte, err error) {
			a.log.Warn("market message dropped", logger.String("topic", topic), logger.Error(err))
		})
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
	}

	if err := a.c.HTTP.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.log.Info("signal engine started",
		logger.Int("port", a.cfg.Server.Port),
		logger.Int("strategies", len(a.cfg.Strategies)),
	)
	return nil
}

// shutdown stops intake first, drains the processor, then flushes and closes sinks.
func (a *App) shutdown(ctx context.Context) error {
	a.log.Info("shutting down")
	var errs []error
	note := func(what string, err error) {
		if err != nil {
			a.log.Warn(what+" stop error", logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	if a.c.Collector != nil {
		note("market collector", a.c.Collector.Shutdown(ctx))
	}
	if a.c.Consumer != nil {
		note("kafka consumer", a.c.Consumer.Stop(ctx))
	}
	if a.c.HTTP != nil {
		note("http server", a.c.HTTP.Stop(ctx))
	}

	note("realtime processor", a.c.Processor.Shutdown(ctx))
	a.c.Pipeline.Stop()
	if a.sched != nil {
		a.sched.Stop()
	}

	a.c.Bus.Close()
	if a.c.Archive != nil {
		note("signal archive", a.c.Archive.Close())
	}
	if a.c.Producer != nil {
		note("kafka producer", a.c.Producer.Close())
	}
	if a.c.ClickHouse != nil {
		note("clickhouse", a.c.ClickHouse.Close())
	}
	note("eval cache", a.c.EvalCache.Close())
	if a.c.Redis != nil {
		note("redis", a.c.Redis.Close())
	}

	a.log.Info("shutdown complete", logger.Int("errors", len(errs)))
	return errors.Join(errs...)
}
