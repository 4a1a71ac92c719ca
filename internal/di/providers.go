package di

import (
	"context"
	"fmt"

	"SignalEngine/internal/domain/models"
	"SignalEngine/internal/domain/repository"
	"SignalEngine/internal/handler/api"
	mid "SignalEngine/internal/middleware"
	internalrepo "SignalEngine/internal/repository"
	"SignalEngine/internal/service/finnhub"
	"SignalEngine/internal/services/evalcache"
	"SignalEngine/internal/services/evaluator"
	"SignalEngine/internal/usecase"
	"SignalEngine/pkg/cache"
	pkgch "SignalEngine/pkg/clickhouse"
	"SignalEngine/pkg/config"
	"SignalEngine/pkg/events"
	xhttp "SignalEngine/pkg/http"
	pkgkafka "SignalEngine/pkg/kafka"
	"SignalEngine/pkg/logger"
	"SignalEngine/pkg/metrics"
	"SignalEngine/pkg/queue"
	"SignalEngine/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const deadLetterCapacity = 10000

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates the engine metrics recorder.
func ProvideMetrics(cfg *config.Config, reg *prometheus.Registry) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.NewNoop()
	}
	return metrics.New(reg)
}

// ProvideEventBus creates the in-process event bus.
func ProvideEventBus(cfg *config.Config, reg *prometheus.Registry, log *logger.Logger) *events.Bus {
	bus := events.NewBus(events.WithBufferSize(1024), events.WithLogger(log))
	if cfg.Metrics.Enabled {
		metrics.RegisterDroppedEvents(reg, bus.Dropped)
	}
	return bus
}

// ProvideRedisCache connects to Redis when enabled; nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideEvalCache creates the evaluation cache, backed by Redis as a second
// level when engine.cache.redis_enabled is set.
func ProvideEvalCache(cfg *config.Config, rc *cache.RedisCache, bus *events.Bus, log *logger.Logger) *evalcache.Cache {
	opts := []evalcache.Option{evalcache.WithPublisher(bus), evalcache.WithLogger(log)}
	if rc != nil && cfg.Engine.Cache.RedisEnabled {
		opts = append(opts, evalcache.WithRemote(rc))
	}
	return evalcache.New(cfg.Engine.Cache, opts...)
}

// ProvideDeadLetterStore keeps dead letters in Redis when available, in memory otherwise.
func ProvideDeadLetterStore(cfg *config.Config, rc *cache.RedisCache) queue.DeadLetterStore {
	if rc == nil {
		return queue.NewMemoryDeadLetter(deadLetterCapacity)
	}
	return queue.NewRedisDeadLetter(rc.Client(), cfg.Redis.Prefix, deadLetterCapacity)
}

func ProvideDeadLetters(store queue.DeadLetterStore) *internalrepo.DeadLetters {
	return internalrepo.NewDeadLetters(store)
}

func ProvideEvaluator(cfg *config.Config) repository.ConditionEvaluator {
	return evaluator.New(cfg.Evaluator)
}

func ProvideSignalHistory(cfg *config.Config) *internalrepo.MemoryHistory {
	return internalrepo.NewMemoryHistory(cfg.Engine.Generator, nil)
}

func ProvideStrategyRegistry(cfg *config.Config) *internalrepo.StrategyRegistry {
	return internalrepo.NewStrategyRegistry(cfg.Strategies)
}

// ProvideSignalGenerator creates the generator with the built-in rules, enhancers and resolvers.
func ProvideSignalGenerator(
	cfg *config.Config,
	ec *evalcache.Cache,
	eval repository.ConditionEvaluator,
	history repository.SignalHistory,
	bus *events.Bus,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.SignalGenerator {
	return usecase.NewSignalGenerator(cfg, usecase.GeneratorDeps{
		Cache:     ec,
		Evaluator: eval,
		History:   history,
		Publisher: bus,
		Metrics:   m,
		Logger:    log.With(logger.String("component", "generator")),
	})
}

func ProvideRealtimeProcessor(
	cfg *config.Config,
	gen *usecase.SignalGenerator,
	registry repository.StrategyRegistry,
	bus *events.Bus,
	m repository.Metrics,
	dead *internalrepo.DeadLetters,
	ec *evalcache.Cache,
	log *logger.Logger,
) *usecase.RealtimeProcessor {
	return usecase.NewRealtimeProcessor(cfg, usecase.ProcessorDeps{
		Generator:   gen,
		Registry:    registry,
		Publisher:   bus,
		Metrics:     m,
		DeadLetters: dead,
		Cache:       ec,
		Logger:      log.With(logger.String("component", "processor")),
	})
}

func ProvideWindowBuilder(cfg *config.Config) *usecase.WindowBuilder {
	return usecase.NewWindowBuilder(models.NormalizeTimeframe(cfg.Finnhub.Timeframe), 0)
}

// ProvideMarketPipeline puts validation and per-symbol throttling in front of the processor.
func ProvideMarketPipeline(cfg *config.Config, proc *usecase.RealtimeProcessor, m repository.Metrics, log *logger.Logger) *mid.MarketPipeline {
	return mid.NewMarketPipeline(proc, m,
		mid.WithMaxRPS(cfg.Engine.Pipeline.MaxUpdatesPerSecond),
		mid.WithBufferSize(cfg.Engine.Processor.BackpressureThreshold),
		mid.WithLogger(log.With(logger.String("component", "pipeline"))),
	)
}

// ProvideMarketCollector streams Finnhub trades when enabled; nil otherwise.
func ProvideMarketCollector(
	cfg *config.Config,
	builder *usecase.WindowBuilder,
	pipe *mid.MarketPipeline,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.MarketCollector {
	if !cfg.Finnhub.Enabled {
		return nil
	}
	stream := finnhub.New(finnhub.Config{
		APIKey:         cfg.Finnhub.APIKey,
		WebSocketURL:   cfg.Finnhub.WebSocketURL,
		Symbols:        cfg.Finnhub.Symbols,
		ReconnectDelay: cfg.Finnhub.ReconnectDelay,
		PingInterval:   cfg.Finnhub.PingInterval,
	}, log.With(logger.String("component", "finnhub")))
	return usecase.NewMarketCollector(stream, builder, pipe, m, log)
}

// ProvideKafkaProducer creates the event producer when Kafka is enabled; nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		Compression:  cfg.Kafka.Compression,
		MaxAttempts:  cfg.Kafka.Producer.MaxAttempts,
		WriteTimeout: cfg.Kafka.Producer.WriteTimeout,
		BatchSize:    cfg.Kafka.Producer.BatchSize,
		BatchTimeout: cfg.Kafka.Producer.Linger,
		Async:        cfg.Kafka.Producer.Async,
		HashByKey:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher forwards bus events to Kafka; nil without a producer.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer, log *logger.Logger) *internalrepo.KafkaEventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic, log)
}

// ProvideKafkaConsumer creates the market-data consumer when Kafka is enabled; nil otherwise.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		GroupID:    cfg.Kafka.Consumer.GroupID,
		Workers:    cfg.Kafka.Consumer.Workers,
		BufferSize: cfg.Kafka.Consumer.BufferSize,
		RetryMax:   cfg.Kafka.Consumer.RetryMax,
		BackoffMin: cfg.Kafka.Consumer.BackoffMin,
		BackoffMax: cfg.Kafka.Consumer.BackoffMax,
		DLQTopic:   cfg.Kafka.Consumer.DLQTopic,
	}, log.With(logger.String("component", "kafka_consumer")))
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideKafkaMarketHandler(cfg *config.Config, pipe *mid.MarketPipeline, builder *usecase.WindowBuilder, m repository.Metrics) *usecase.KafkaMarketHandler {
	return usecase.NewKafkaMarketHandler(cfg.Kafka.MarketTopic, pipe, builder, m)
}

// ProvideClickHouseClient connects to ClickHouse when enabled; nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClickHouse.DialTimeout+cfg.ClickHouse.ReadTimeout)
	defer cancel()
	client, err := pkgch.NewClient(ctx, pkgch.ClientConfig{
		Host:        cfg.ClickHouse.Host,
		Port:        cfg.ClickHouse.Port,
		Database:    cfg.ClickHouse.Database,
		User:        cfg.ClickHouse.User,
		Password:    cfg.ClickHouse.Password,
		DialTimeout: cfg.ClickHouse.DialTimeout,
		ReadTimeout: cfg.ClickHouse.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSignalArchive creates the archive table and returns the archive; nil without a client.
func ProvideSignalArchive(cfg *config.Config, client *pkgch.Client, log *logger.Logger) (*internalrepo.ClickHouseSignalArchive, error) {
	if client == nil {
		return nil, nil
	}
	archive := internalrepo.NewClickHouseSignalArchive(
		client.DB(),
		cfg.ClickHouse.Database+".signals",
		cfg.ClickHouse.FlushSize,
		cfg.ClickHouse.FlushInterval,
		log.With(logger.String("component", "archive")),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClickHouse.ReadTimeout)
	defer cancel()
	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database}, archive.Schema()...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return archive, nil
}

func ProvideEngineHandler(
	log *logger.Logger,
	gen *usecase.SignalGenerator,
	proc *usecase.RealtimeProcessor,
	registry repository.StrategyRegistry,
	ec *evalcache.Cache,
	dead *internalrepo.DeadLetters,
) *api.EngineHandler {
	return api.NewEngineHandler(log.With(logger.String("component", "http")), gen, proc, registry, ec, dead)
}

// ProvideHTTPServer builds the echo server with the engine routes and /metrics.
func ProvideHTTPServer(cfg *config.Config, h *api.EngineHandler, reg *prometheus.Registry, log *logger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(log),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithRegistry(reg))
	}
	return xhttp.NewServer([]xhttp.Handler{h}, opts...)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	bus *events.Bus,
	proc *usecase.RealtimeProcessor,
	pipe *mid.MarketPipeline,
	ec *evalcache.Cache,
	history *internalrepo.MemoryHistory,
	collector *usecase.MarketCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaMarketHandler,
	producer *pkgkafka.Producer,
	publisher *internalrepo.KafkaEventPublisher,
	chClient *pkgch.Client,
	archive *internalrepo.ClickHouseSignalArchive,
	rc *cache.RedisCache,
	httpServer *xhttp.Server,
) *server.App {
	return server.New(cfg, log, server.Components{
		Bus:        bus,
		Processor:  proc,
		Pipeline:   pipe,
		EvalCache:  ec,
		History:    history,
		Collector:  collector,
		Consumer:   consumer,
		Handler:    kh,
		Producer:   producer,
		Publisher:  publisher,
		ClickHouse: chClient,
		Archive:    archive,
		Redis:      rc,
		HTTP:       httpServer,
	})
}
