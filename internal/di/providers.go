package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"PegWatch/internal/domain/repository"
	"PegWatch/internal/handler/api"
	mid "PegWatch/internal/middleware"
	internalrepo "PegWatch/internal/repository"
	"PegWatch/internal/registry"
	"PegWatch/internal/service/coingecko"
	"PegWatch/internal/service/events"
	"PegWatch/internal/service/finnhub"
	"PegWatch/internal/service/ratelimit"
	"PegWatch/internal/service/sources"
	"PegWatch/internal/service/stream"
	"PegWatch/internal/services/risk"
	"PegWatch/internal/usecase"
	"PegWatch/pkg/cache"
	pkgch "PegWatch/pkg/clickhouse"
	"PegWatch/pkg/config"
	xhttp "PegWatch/pkg/http"
	pkgkafka "PegWatch/pkg/kafka"
	applogger "PegWatch/pkg/logger"
	"PegWatch/pkg/metrics"
	"PegWatch/pkg/server"
	"PegWatch/pkg/tracing"
)

const schemaTimeout = 10 * time.Second

// ProvideLogger builds the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvidePrometheusRegistry creates the registry served on the metrics path.
// Kafka client metrics are pointed at it as well.
func ProvidePrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pkgkafka.SetProducerMetricsRegisterer(reg)
	pkgkafka.SetConsumerMetricsRegisterer(reg)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

func ProvideTracerProvider(cfg *config.Config) (*sdktrace.TracerProvider, error) {
	tp, _, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	return tp, nil
}

func ProvideTracer(tp *sdktrace.TracerProvider) trace.Tracer {
	return tp.Tracer(tracing.InstrumentationName)
}

// ProvideRegistry loads the asset registry, falling back to the embedded one.
func ProvideRegistry(cfg *config.Config) (*registry.Registry, error) {
	r, err := registry.LoadFile(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("asset registry: %w", err)
	}
	return r, nil
}

// ProvideCacheService picks the backend behind the fresh-read cache.
func ProvideCacheService(cfg *config.Config) (cache.Service, error) {
	if !cfg.NeedsRedis() {
		return cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
			cache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
		), nil
	}

	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if cfg.Cache.Backend == "layered" {
		return cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
			cache.WithLayeredMemoryTTL(cfg.Monitor.ReportTTL),
		), nil
	}
	return rc, nil
}

func ProvideFreshCache(cfg *config.Config, backend cache.Service, l *applogger.Logger) *cache.FreshCache {
	return cache.NewFreshCache(backend, cfg.Cache.DefaultTTL, cfg.Cache.Enabled,
		cache.WithFreshLogger(l),
		cache.WithNamespace("pegwatch"),
	)
}

// ProvideRiskModel builds the model from the risk section. Thresholds are
// copied in and cannot change afterwards.
func ProvideRiskModel(cfg *config.Config) (*risk.Model, error) {
	m, err := risk.NewModel(risk.Thresholds{
		DepegWarning:  cfg.Risk.DepegWarning,
		DepegCritical: cfg.Risk.DepegCritical,
		RiskHigh:      cfg.Risk.RiskHigh,
		RiskMedium:    cfg.Risk.RiskMedium,
		MaxDeviation:  cfg.Risk.MaxDeviation,
	}, risk.WithVolatilityScale(cfg.Risk.VolatilityScale))
	if err != nil {
		return nil, fmt.Errorf("risk model: %w", err)
	}
	return m, nil
}

func ProvideEventBus(l *applogger.Logger) *events.Bus {
	return events.NewBus(events.WithLogger(l))
}

// ProvideClickHouseClient connects only when a source or the archive needs
// it, and creates the tick table when init_schema is set.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.NeedsClickHouse() {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if cfg.ClickHouse.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		defer cancel()
		if err := client.InitSchema(ctx, internalrepo.PriceTicksSchema(cfg.Sources.ClickHouse.Table)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when Kafka is enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the observations consumer when enabled.
func ProvideKafkaConsumer(cfg *config.Config, tracer trace.Tracer, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewTraceHook(tracer, l))
	return consumer, nil
}

func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) *internalrepo.KafkaEventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Events, l)
}

// ProvideStreamBuffer holds pushed observations when the stream source is on.
func ProvideStreamBuffer(cfg *config.Config) *stream.Buffer {
	if !cfg.Sources.Stream.Enabled {
		return nil
	}
	return stream.NewBuffer(cfg.Sources.Stream.MaxAge)
}

// ProvideObservationArchive selects where accepted stream observations go
// besides the buffer.
func ProvideObservationArchive(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer) repository.ObservationArchive {
	switch cfg.Sources.Stream.Archive {
	case "clickhouse":
		if ch != nil {
			return internalrepo.NewClickHouseTickStore(ch.DB(), cfg.Sources.ClickHouse.Table, cfg.Sources.Stream.ArchiveChain)
		}
	case "kafka":
		if producer != nil {
			return internalrepo.NewKafkaObservationPublisher(producer, cfg.Kafka.Topics.Observations)
		}
	}
	return nil
}

func ProvideObservationProcessor(
	cfg *config.Config,
	buf *stream.Buffer,
	archive repository.ObservationArchive,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.ObservationProcessor {
	if buf == nil {
		return nil
	}
	return usecase.NewObservationProcessor(buf, archive, m, l,
		cfg.Sources.Stream.BatchSize,
		cfg.Sources.Stream.BatchTimeout,
	)
}

func ProvideIngestPipeline(cfg *config.Config, proc *usecase.ObservationProcessor, m repository.Metrics) *mid.IngestPipeline {
	if proc == nil {
		return nil
	}
	throttle := ratelimit.New(float64(cfg.Sources.Stream.MaxRPS), 1,
		ratelimit.WithMaxKeys(cfg.Sources.Stream.MaxKeys),
		ratelimit.WithIdleTTL(cfg.Sources.Stream.MaxAge),
	)
	return mid.NewIngestPipeline(proc, m,
		mid.WithThrottle(throttle),
		mid.WithBufferSize(cfg.Sources.Stream.BufferSize),
	)
}

// ProvideMarketStream creates the Finnhub WebSocket stream when enabled.
func ProvideMarketStream(cfg *config.Config, l *applogger.Logger) repository.MarketStream {
	f := cfg.Sources.Finnhub
	if !f.Enabled {
		return nil
	}
	return finnhub.New(finnhub.Config{
		APIKey:         f.APIKey,
		URL:            f.URL,
		Symbols:        f.Symbols,
		ReconnectDelay: f.ReconnectDelay,
		PingInterval:   f.PingInterval,
	}, l)
}

func ProvideStreamCollector(
	ms repository.MarketStream,
	pipe *mid.IngestPipeline,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.StreamCollector {
	if ms == nil || pipe == nil {
		return nil
	}
	return usecase.NewStreamCollector(ms, pipe, m, l)
}

func ProvideObservationsHandler(cfg *config.Config, pipe *mid.IngestPipeline, m repository.Metrics) *usecase.KafkaObservationsHandler {
	if pipe == nil || !cfg.Kafka.Consumer.Enabled {
		return nil
	}
	return usecase.NewKafkaObservationsHandler(cfg.Kafka.Topics.Observations, pipe, m)
}

// ProvidePriceSource fans out over every enabled pull source and the stream
// buffer.
func ProvidePriceSource(
	cfg *config.Config,
	reg *registry.Registry,
	ch *pkgch.Client,
	buf *stream.Buffer,
	tracer trace.Tracer,
	m repository.Metrics,
	l *applogger.Logger,
) repository.PriceSource {
	var members []repository.PriceSource

	if gc := cfg.Sources.CoinGecko; gc.Enabled {
		members = append(members, coingecko.New(reg, coingecko.Config{
			BaseURL:     gc.BaseURL,
			APIKey:      gc.APIKey,
			Timeout:     gc.Timeout,
			RPS:         gc.RPS,
			Burst:       gc.Burst,
			MaxFailures: gc.MaxFailures,
			OpenTimeout: gc.OpenTimeout,
		}, coingecko.WithTracer(tracer), coingecko.WithLogger(l)))
	}
	if cfg.Sources.ClickHouse.Enabled && ch != nil {
		src := internalrepo.NewClickHousePriceSource(ch.DB(), cfg.Sources.ClickHouse.Table, cfg.Sources.ClickHouse.Lookback)
		src.SetLogger(l)
		members = append(members, src)
	}
	if buf != nil {
		members = append(members, buf)
	}

	return sources.NewComposite(members,
		sources.WithTimeout(cfg.Sources.Timeout),
		sources.WithTracer(tracer),
		sources.WithMetrics(m),
		sources.WithLogger(l),
	)
}

func ProvideHealthMonitor(
	cfg *config.Config,
	reg *registry.Registry,
	src repository.PriceSource,
	model *risk.Model,
	fresh *cache.FreshCache,
	bus *events.Bus,
	tracer trace.Tracer,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.HealthMonitor {
	return usecase.NewHealthMonitor(reg, src, model, fresh, bus,
		usecase.WithReportTTL(cfg.Monitor.ReportTTL),
		usecase.WithScoreTTL(cfg.Monitor.ScoreTTL),
		usecase.WithRiskChangeThreshold(cfg.Monitor.RiskChangeThreshold),
		usecase.WithDefaultChain(cfg.Monitor.DefaultChain),
		usecase.WithTracer(tracer),
		usecase.WithMetrics(m),
		usecase.WithLogger(l),
	)
}

// ProvideHTTPHandler builds the REST API with a per-client limiter.
func ProvideHTTPHandler(cfg *config.Config, monitor *usecase.HealthMonitor, reg *registry.Registry, l *applogger.Logger) xhttp.Handler {
	if cfg.Server.RateLimit.RPS <= 0 {
		return api.NewHealthEchoHandler(monitor, reg, nil, l)
	}
	limiter := ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
	return api.NewHealthEchoHandler(monitor, reg, limiter, l)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	promReg *prometheus.Registry,
	tp *sdktrace.TracerProvider,
	backend cache.Service,
	monitor *usecase.HealthMonitor,
	bus *events.Bus,
	handler xhttp.Handler,
	buf *stream.Buffer,
	pipe *mid.IngestPipeline,
	proc *usecase.ObservationProcessor,
	collector *usecase.StreamCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaObservationsHandler,
	producer *pkgkafka.Producer,
	publisher *internalrepo.KafkaEventPublisher,
	ch *pkgch.Client,
) *server.App {
	return server.New(server.Components{
		Config:              cfg,
		Logger:              l,
		Monitor:             monitor,
		Bus:                 bus,
		Handler:             handler,
		Registerer:          promReg,
		Gatherer:            promReg,
		Tracer:              tp,
		Cache:               backend,
		Buffer:              buf,
		Pipeline:            pipe,
		Processor:           proc,
		Collector:           collector,
		Consumer:            consumer,
		ObservationsHandler: kh,
		Producer:            producer,
		EventPublisher:      publisher,
		ClickHouse:          ch,
	})
}
