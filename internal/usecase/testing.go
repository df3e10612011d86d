package usecase

import (
	"time"

	domrepo "PegWatch/internal/domain/repository"
	"PegWatch/internal/service/events"
	"PegWatch/internal/services/risk"
	"PegWatch/pkg/cache"
)

// NewTestHealthMonitor builds a monitor with its own in-memory cache, event bus
// and default thresholds, so tests never share state.
func NewTestHealthMonitor(registry domrepo.AssetRegistry, source domrepo.PriceSource, opts ...MonitorOption) (*HealthMonitor, *events.Bus) {
	model, err := risk.NewModel(risk.DefaultThresholds())
	if err != nil {
		panic(err)
	}
	bus := events.NewBus()
	fresh := cache.NewFreshCache(cache.NewMemoryCache(cache.WithMemoryCleanup(time.Minute)), DefaultReportTTL, true)
	return NewHealthMonitor(registry, source, model, fresh, bus, opts...), bus
}
