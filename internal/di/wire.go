//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"PegWatch/pkg/config"
	"PegWatch/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvidePrometheusRegistry,
		ProvideMetrics,
		ProvideTracerProvider,
		ProvideTracer,

		// Infrastructure clients
		ProvideCacheService,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Domain
		ProvideRegistry,
		ProvideRiskModel,
		ProvideFreshCache,
		ProvideEventBus,
		ProvideEventPublisher,

		// Ingestion
		ProvideStreamBuffer,
		ProvideObservationArchive,
		ProvideObservationProcessor,
		ProvideIngestPipeline,
		ProvideMarketStream,
		ProvideStreamCollector,
		ProvideObservationsHandler,

		// Use cases
		ProvidePriceSource,
		ProvideHealthMonitor,
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
