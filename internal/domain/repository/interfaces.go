package repository

import (
	"context"

	"PegWatch/internal/domain/models"
)

// PriceSource fetches raw observations. Partial results are allowed; a timeout
// or transport failure is reported as an error with no observations.
type PriceSource interface {
	Name() string
	FetchPrices(ctx context.Context, symbols []string, chain string) ([]models.PriceObservation, error)
	IsAvailable() bool
}

type AssetRegistry interface {
	Lookup(symbol string) (models.AssetMetadata, bool)
	IsKnown(symbol string) bool
	ListAll() []string
}

// EventSink receives events produced by the health monitor. Implementations
// must not let a subscriber failure escape into the caller.
type EventSink interface {
	EmitDepeg(ctx context.Context, e models.DepegEvent)
	EmitRiskChange(ctx context.Context, e models.RiskChangeEvent)
}

// MarketStream is a push-based feed of observations (WebSocket and similar).
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.PriceObservation, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// ObservationSink accepts pushed observations.
type ObservationSink interface {
	Record(ctx context.Context, obs *models.PriceObservation) error
}

type Metrics interface {
	RecordHealthCheck(symbol, chain string, status models.HealthStatus)
	RecordCacheResult(kind string, hit bool)
	RecordRiskScore(symbol, chain string, score int)
	RecordDeviation(symbol, chain string, deviation float64)
	RecordEvent(kind models.EventType, symbol string)
	RecordObservations(source string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) RecordHealthCheck(string, string, models.HealthStatus) {}
func (NoopMetrics) RecordCacheResult(string, bool)                         {}
func (NoopMetrics) RecordRiskScore(string, string, int)                    {}
func (NoopMetrics) RecordDeviation(string, string, float64)                {}
func (NoopMetrics) RecordEvent(models.EventType, string)                   {}
func (NoopMetrics) RecordObservations(string, int)                         {}
func (NoopMetrics) RecordError(string)                                     {}
func (NoopMetrics) RecordLatency(string, float64)                          {}

// ObservationArchive persists or forwards batches of observations outside the process.
type ObservationArchive interface {
	StoreBatch(ctx context.Context, batch []*models.PriceObservation) error
}
