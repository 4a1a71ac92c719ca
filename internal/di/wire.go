//go:build wireinject
// +build wireinject

package di

import (
	"SignalEngine/internal/domain/repository"
	internalrepo "SignalEngine/internal/repository"
	"SignalEngine/pkg/config"
	"SignalEngine/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideEventBus,
	ProvideRedisCache,
	ProvideKafkaProducer,
	ProvideKafkaConsumer,
	ProvideClickHouseClient,
)

var repositorySet = wire.NewSet(
	ProvideDeadLetterStore,
	ProvideDeadLetters,
	ProvideSignalHistory,
	wire.Bind(new(repository.SignalHistory), new(*internalrepo.MemoryHistory)),
	ProvideStrategyRegistry,
	wire.Bind(new(repository.StrategyRegistry), new(*internalrepo.StrategyRegistry)),
	ProvideEventPublisher,
	ProvideSignalArchive,
)

var engineSet = wire.NewSet(
	ProvideEvalCache,
	ProvideEvaluator,
	ProvideSignalGenerator,
	ProvideRealtimeProcessor,
	ProvideWindowBuilder,
	ProvideMarketPipeline,
	ProvideMarketCollector,
	ProvideKafkaMarketHandler,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		repositorySet,
		engineSet,
		ProvideEngineHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
