package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"PegWatch/internal/domain/models"
	mid "PegWatch/internal/middleware"
	"PegWatch/internal/repository"
	"PegWatch/internal/service/events"
	"PegWatch/internal/service/stream"
	"PegWatch/internal/usecase"
	"PegWatch/pkg/cache"
	pkgch "PegWatch/pkg/clickhouse"
	"PegWatch/pkg/config"
	xhttp "PegWatch/pkg/http"
	pkgkafka "PegWatch/pkg/kafka"
	applogger "PegWatch/pkg/logger"
)

const bufferPruneInterval = 30 * time.Second

// Components is everything the App drives. Optional parts are nil when the
// matching feature is disabled in config.
type Components struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Monitor    *usecase.HealthMonitor
	Bus        *events.Bus
	Handler    xhttp.Handler
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Tracer     *sdktrace.TracerProvider
	Cache      cache.Service

	Buffer              *stream.Buffer
	Pipeline            *mid.IngestPipeline
	Processor           *usecase.ObservationProcessor
	Collector           *usecase.StreamCollector
	Consumer            *pkgkafka.Consumer
	ObservationsHandler *usecase.KafkaObservationsHandler
	Producer            *pkgkafka.Producer
	EventPublisher      *repository.KafkaEventPublisher
	ClickHouse          *pkgch.Client
}

// App encapsulates the entire application lifecycle.
type App struct {
	c          Components
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server

	wg          sync.WaitGroup
	cancel      context.CancelFunc
	unsubscribe []func()
	closeOnce   sync.Once
}

func New(c Components) *App {
	if c.Logger == nil {
		c.Logger = applogger.NewNop()
	}
	cfg := c.Config

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := xhttp.NewServer(c.Handler,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(c.Logger),
		xhttp.WithMetrics(metricsPath, c.Registerer, c.Gatherer),
	)

	return &App{c: c, cfg: cfg, log: c.Logger, httpServer: srv}
}

// Monitor exposes the orchestrator for one-shot commands.
func (a *App) Monitor() *usecase.HealthMonitor { return a.c.Monitor }

// Run starts every configured component and blocks until ctx is cancelled,
// then shuts down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.c.Producer != nil && a.cfg.Kafka.LogCollection.Enabled {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   a.cfg.Kafka.LogCollection.Interval,
			CountThreshold: a.cfg.Kafka.LogCollection.CountThreshold,
			Topic:          a.cfg.Kafka.Topics.Logs,
			Publisher:      a.c.Producer,
		})
	}

	a.subscribeEvents()
	a.startIngest(runCtx)

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		cancel()
		return errors.Join(err, a.Close(context.Background()))
	}

	a.startWatchlist(runCtx)

	<-runCtx.Done()
	a.log.Info("shutdown signal received")

	shutdownCtx, done := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer done()
	return a.Close(shutdownCtx)
}

func (a *App) subscribeEvents() {
	bus := a.c.Bus
	if bus == nil {
		return
	}
	a.unsubscribe = append(a.unsubscribe,
		bus.SubscribeDepeg(func(_ context.Context, e models.DepegEvent) {
			a.log.Warn("depeg detected",
				applogger.String("symbol", e.Symbol),
				applogger.String("chain", e.Chain),
				applogger.String("severity", string(e.Severity)),
				applogger.Float64("deviation", e.Deviation),
			)
		}),
		bus.SubscribeRiskChange(func(_ context.Context, e models.RiskChangeEvent) {
			a.log.Info("risk score changed",
				applogger.String("symbol", e.Symbol),
				applogger.String("chain", e.Chain),
				applogger.Int("old_score", e.OldScore),
				applogger.Int("new_score", e.NewScore),
			)
		}),
	)
	if a.c.EventPublisher != nil {
		a.unsubscribe = append(a.unsubscribe, a.c.EventPublisher.Attach(bus))
		a.log.Info("event publishing enabled", applogger.String("topic", a.cfg.Kafka.Topics.Events))
	}
}

func (a *App) startIngest(ctx context.Context) {
	if a.c.Buffer != nil {
		a.goRun(func() { a.c.Buffer.Run(ctx, bufferPruneInterval) })
	}
	if a.c.Processor != nil {
		a.goRun(func() { a.c.Processor.Run(ctx) })
	}
	if a.c.Pipeline != nil && a.c.Collector == nil {
		a.c.Pipeline.Start(ctx)
	}

	if a.c.Collector != nil {
		if err := a.c.Collector.Start(ctx); err != nil {
			a.log.Error("stream collector start failed", applogger.Error(err))
		} else {
			a.log.Info("stream collector started")
		}
	}

	if a.c.Consumer != nil && a.c.ObservationsHandler != nil {
		a.c.Consumer.RegisterHandler(a.c.ObservationsHandler)
		if err := a.c.Consumer.Start(); err != nil {
			a.log.Error("kafka consumer start failed", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.String("topic", a.c.ObservationsHandler.Topic()))
		}
	}
}

func (a *App) startWatchlist(ctx context.Context) {
	for _, item := range a.cfg.Monitor.Watchlist {
		if err := a.c.Monitor.StartMonitoring(ctx, item.Symbol, item.Chain, a.cfg.Monitor.Interval); err != nil {
			a.log.Warn("watchlist entry skipped",
				applogger.String("symbol", item.Symbol),
				applogger.String("chain", item.Chain),
				applogger.Error(err),
			)
		}
	}
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Close stops monitors, ingestion, the HTTP server and infrastructure
// clients in that order. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		a.log.Info("shutting down")
		if a.cancel != nil {
			a.cancel()
		}

		if n := a.c.Monitor.StopAllMonitoring(); n > 0 {
			a.log.Info("monitors stopped", applogger.Int("count", n))
		}

		if a.c.Collector != nil {
			if err := a.c.Collector.Shutdown(ctx); err != nil {
				errs = append(errs, err)
				a.log.Warn("stream collector stop error", applogger.Error(err))
			}
		} else if a.c.Pipeline != nil {
			a.c.Pipeline.Stop()
		}
		if a.c.Consumer != nil {
			if err := a.c.Consumer.Stop(ctx); err != nil {
				errs = append(errs, err)
				a.log.Warn("kafka consumer stop error", applogger.Error(err))
			}
		}
		a.wg.Wait()

		if err := a.httpServer.Stop(ctx); err != nil {
			errs = append(errs, err)
			a.log.Error("http shutdown error", applogger.Error(err))
		}

		for _, unsub := range a.unsubscribe {
			unsub()
		}
		a.log.RemoveCollector()

		if a.c.Producer != nil {
			if err := a.c.Producer.Close(); err != nil {
				errs = append(errs, err)
				a.log.Warn("kafka producer close error", applogger.Error(err))
			}
		}
		if a.c.ClickHouse != nil {
			if err := a.c.ClickHouse.Close(); err != nil {
				errs = append(errs, err)
				a.log.Warn("clickhouse close error", applogger.Error(err))
			}
		}
		if a.c.Cache != nil {
			if err := a.c.Cache.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.c.Tracer != nil {
			if err := a.c.Tracer.Shutdown(ctx); err != nil {
				errs = append(errs, err)
				a.log.Warn("tracer shutdown error", applogger.Error(err))
			}
		}
		a.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
