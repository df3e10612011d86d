package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"PegWatch/internal/domain/models"
	domrepo "PegWatch/internal/domain/repository"
	"PegWatch/internal/services/aggregation"
	"PegWatch/internal/services/risk"
	"PegWatch/pkg/cache"
	applogger "PegWatch/pkg/logger"
)

const (
	DefaultReportTTL           = 30 * time.Second
	DefaultScoreTTL            = 24 * time.Hour
	DefaultRiskChangeThreshold = 10
	DefaultChain               = "ethereum"

	healthKeyPrefix = "health"
	scoreKeyPrefix  = "score"
)

// MonitorOption configures a HealthMonitor.
type MonitorOption func(*HealthMonitor)

// WithReportTTL sets how long a report is served from cache.
func WithReportTTL(ttl time.Duration) MonitorOption {
	return func(m *HealthMonitor) {
		if ttl > 0 {
			m.reportTTL = ttl
		}
	}
}

// WithScoreTTL sets how long the last score survives for risk-change comparison.
func WithScoreTTL(ttl time.Duration) MonitorOption {
	return func(m *HealthMonitor) {
		if ttl > 0 {
			m.scoreTTL = ttl
		}
	}
}

// WithRiskChangeThreshold sets the minimum absolute score change that emits a risk-change event.
func WithRiskChangeThreshold(points int) MonitorOption {
	return func(m *HealthMonitor) {
		if points > 0 {
			m.riskChangeThreshold = points
		}
	}
}

func WithDefaultChain(chain string) MonitorOption {
	return func(m *HealthMonitor) {
		if chain != "" {
			m.defaultChain = strings.ToLower(chain)
		}
	}
}

func WithAggregator(a *aggregation.Aggregator) MonitorOption {
	return func(m *HealthMonitor) {
		if a != nil {
			m.aggregator = a
		}
	}
}

func WithTracer(t trace.Tracer) MonitorOption {
	return func(m *HealthMonitor) {
		if t != nil {
			m.tracer = t
		}
	}
}

func WithMetrics(metrics domrepo.Metrics) MonitorOption {
	return func(m *HealthMonitor) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

func WithLogger(l *applogger.Logger) MonitorOption {
	return func(m *HealthMonitor) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithClock(now func() time.Time) MonitorOption {
	return func(m *HealthMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

type monitorHandle struct {
	info   models.MonitorInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// HealthMonitor produces health reports for registered assets and runs
// scheduled checks. Reports are cached per (symbol, chain) for reportTTL.
type HealthMonitor struct {
	registry   domrepo.AssetRegistry
	source     domrepo.PriceSource
	aggregator *aggregation.Aggregator
	model      *risk.Model
	cache      *cache.FreshCache
	events     domrepo.EventSink
	metrics    domrepo.Metrics
	logger     *applogger.Logger
	tracer     trace.Tracer
	now        func() time.Time

	reportTTL           time.Duration
	scoreTTL            time.Duration
	riskChangeThreshold int
	defaultChain        string

	mu       sync.Mutex
	monitors map[string]*monitorHandle
}

// NewHealthMonitor wires the orchestrator. A nil events sink drops events.
func NewHealthMonitor(
	registry domrepo.AssetRegistry,
	source domrepo.PriceSource,
	model *risk.Model,
	c *cache.FreshCache,
	events domrepo.EventSink,
	opts ...MonitorOption,
) *HealthMonitor {
	m := &HealthMonitor{
		registry:            registry,
		source:              source,
		aggregator:          aggregation.New(),
		model:               model,
		cache:               c,
		events:              events,
		metrics:             domrepo.NoopMetrics{},
		logger:              applogger.NewNop(),
		tracer:              noop.NewTracerProvider().Tracer(""),
		now:                 time.Now,
		reportTTL:           DefaultReportTTL,
		scoreTTL:            DefaultScoreTTL,
		riskChangeThreshold: DefaultRiskChangeThreshold,
		defaultChain:        DefaultChain,
		monitors:            make(map[string]*monitorHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.events == nil {
		m.events = discardEvents{}
	}
	return m
}

// Source returns the price source used on cache misses.
func (m *HealthMonitor) Source() domrepo.PriceSource { return m.source }

// GetHealth returns the cached report for (symbol, chain) or builds a new one.
// Unknown symbols fail with models.ErrUnsupportedAsset before any cache or
// source access; a source that yields nothing fails with models.ErrNoPriceData.
func (m *HealthMonitor) GetHealth(ctx context.Context, symbol, chain string) (*models.HealthReport, error) {
	asset, ok := m.registry.Lookup(symbol)
	if !ok {
		return nil, models.UnsupportedAsset(symbol)
	}
	chain = m.resolveChain(asset, chain)

	ctx, span := m.tracer.Start(ctx, "health_monitor.get_health", trace.WithAttributes(
		attribute.String("symbol", asset.Symbol),
		attribute.String("chain", chain),
	))
	defer span.End()

	key := cache.GenerateKey(healthKeyPrefix, asset.Symbol, chain)
	var cached models.HealthReport
	if m.cache.Get(ctx, key, &cached) {
		m.metrics.RecordCacheResult(healthKeyPrefix, true)
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached.Clone(), nil
	}
	m.metrics.RecordCacheResult(healthKeyPrefix, false)

	start := m.now()
	report, err := m.buildReport(ctx, asset, chain)
	if err != nil {
		m.metrics.RecordError("health_check")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, models.ErrNoPriceData) {
			m.logger.Error("health check failed",
				applogger.String("symbol", asset.Symbol),
				applogger.String("chain", chain),
				applogger.Error(err),
			)
		}
		return nil, err
	}
	m.metrics.RecordLatency("health_check", m.now().Sub(start).Seconds())
	m.metrics.RecordHealthCheck(report.Symbol, report.Chain, report.Status)
	m.metrics.RecordRiskScore(report.Symbol, report.Chain, report.RiskScore)
	m.metrics.RecordDeviation(report.Symbol, report.Chain, report.Deviation)

	m.cache.Set(ctx, key, *report.Clone(), m.reportTTL)
	m.emitEvents(ctx, report)

	span.SetAttributes(
		attribute.Int("risk_score", report.RiskScore),
		attribute.String("status", string(report.Status)),
	)
	return report, nil
}

func (m *HealthMonitor) buildReport(ctx context.Context, asset models.AssetMetadata, chain string) (report *models.HealthReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = &models.HealthCheckError{Symbol: asset.Symbol, Chain: chain, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	observations, err := m.source.FetchPrices(ctx, []string{asset.Symbol}, chain)
	if err != nil {
		m.logger.Warn("price source failed",
			applogger.String("source", m.source.Name()),
			applogger.String("symbol", asset.Symbol),
			applogger.String("chain", chain),
			applogger.Error(err),
		)
		return nil, models.NoPriceData(asset.Symbol, chain)
	}
	observations = forSymbol(observations, asset.Symbol)
	if len(observations) == 0 {
		return nil, models.NoPriceData(asset.Symbol, chain)
	}
	m.recordObservations(observations)

	agg := m.aggregator.Aggregate(observations, asset.TargetPrice)
	assessment, err := m.model.Evaluate(asset, agg)
	if err != nil {
		return nil, &models.HealthCheckError{Symbol: asset.Symbol, Chain: chain, Err: err}
	}

	return &models.HealthReport{
		Symbol:    asset.Symbol,
		Chain:     chain,
		Timestamp: m.now(),
		Price:     agg.Price,
		Deviation: agg.Deviation,
		RiskScore: assessment.Score,
		RiskLevel: assessment.Level,
		Status:    assessment.Status,
		Metrics:   assessment.Metrics,
		Liquidity: assessment.Liquidity,
		Alerts:    assessment.Alerts,
	}, nil
}

func (m *HealthMonitor) emitEvents(ctx context.Context, report *models.HealthReport) {
	if report.Status == models.StatusCritical || report.Status == models.StatusDepegged {
		severity := models.SeverityWarning
		if report.Status == models.StatusDepegged {
			severity = models.SeverityCritical
		}
		event := models.DepegEvent{
			Symbol:    report.Symbol,
			Chain:     report.Chain,
			Price:     report.Price,
			Deviation: report.Deviation,
			Severity:  severity,
			Timestamp: report.Timestamp,
		}
		m.emit(models.EventDepeg, report.Symbol, func() { m.events.EmitDepeg(ctx, event) })
		m.metrics.RecordEvent(models.EventDepeg, report.Symbol)
	}

	scoreKey := cache.GenerateKey(scoreKeyPrefix, report.Symbol, report.Chain)
	var previous int
	if m.cache.Get(ctx, scoreKey, &previous) && abs(report.RiskScore-previous) >= m.riskChangeThreshold {
		event := models.RiskChangeEvent{
			Symbol:    report.Symbol,
			Chain:     report.Chain,
			OldScore:  previous,
			NewScore:  report.RiskScore,
			Timestamp: report.Timestamp,
		}
		m.emit(models.EventRiskChange, report.Symbol, func() { m.events.EmitRiskChange(ctx, event) })
		m.metrics.RecordEvent(models.EventRiskChange, report.Symbol)
	}
	m.cache.Set(ctx, scoreKey, report.RiskScore, m.scoreTTL)
}

func (m *HealthMonitor) emit(kind models.EventType, symbol string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event sink panicked",
				applogger.String("event", string(kind)),
				applogger.String("symbol", symbol),
				applogger.Any("panic", r),
			)
		}
	}()
	fn()
}

// GetMultipleHealth checks every symbol concurrently and returns the successful
// reports in input order. Failed symbols are dropped.
func (m *HealthMonitor) GetMultipleHealth(ctx context.Context, symbols []string, chain string) []models.HealthReport {
	type item struct {
		idx    int
		report *models.HealthReport
	}
	ch := make(chan item, len(symbols))
	var wg sync.WaitGroup

	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			report, err := m.GetHealth(ctx, symbol, chain)
			if err != nil {
				m.logger.Debug("batch health check skipped symbol",
					applogger.String("symbol", symbol),
					applogger.Error(err),
				)
				return
			}
			ch <- item{idx: i, report: report}
		}(i, symbol)
	}

	go func() { wg.Wait(); close(ch) }()

	slots := make([]*models.HealthReport, len(symbols))
	for it := range ch {
		slots[it.idx] = it.report
	}

	reports := make([]models.HealthReport, 0, len(symbols))
	for _, r := range slots {
		if r != nil {
			reports = append(reports, *r)
		}
	}
	return reports
}

// StartMonitoring checks (symbol, chain) immediately and then every interval
// until stopped. An existing registration for the same key is replaced. The
// registration outlives ctx cancellation but keeps its values.
func (m *HealthMonitor) StartMonitoring(ctx context.Context, symbol, chain string, interval time.Duration) error {
	asset, ok := m.registry.Lookup(symbol)
	if !ok {
		return models.UnsupportedAsset(symbol)
	}
	if interval <= 0 {
		return fmt.Errorf("monitoring interval must be positive, got %s", interval)
	}
	chain = m.resolveChain(asset, chain)
	key := monitorKey(asset.Symbol, chain)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &monitorHandle{
		info: models.MonitorInfo{
			Symbol:    asset.Symbol,
			Chain:     chain,
			Interval:  interval,
			StartedAt: m.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	previous := m.monitors[key]
	m.monitors[key] = h
	m.mu.Unlock()

	if previous != nil {
		previous.stop()
	}

	m.logger.Info("monitoring started",
		applogger.String("symbol", asset.Symbol),
		applogger.String("chain", chain),
		applogger.Duration("interval", interval),
	)
	go m.run(runCtx, h)
	return nil
}

func (m *HealthMonitor) run(ctx context.Context, h *monitorHandle) {
	defer close(h.done)

	m.tick(ctx, h.info)

	ticker := time.NewTicker(h.info.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, h.info)
		}
	}
}

func (m *HealthMonitor) tick(ctx context.Context, info models.MonitorInfo) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitoring tick panicked",
				applogger.String("symbol", info.Symbol),
				applogger.String("chain", info.Chain),
				applogger.Any("panic", r),
			)
		}
	}()

	if _, err := m.GetHealth(ctx, info.Symbol, info.Chain); err != nil && ctx.Err() == nil {
		m.logger.Warn("scheduled health check failed",
			applogger.String("symbol", info.Symbol),
			applogger.String("chain", info.Chain),
			applogger.Error(err),
		)
	}
}

// StopMonitoring cancels the registration for (symbol, chain) and reports whether one existed.
func (m *HealthMonitor) StopMonitoring(symbol, chain string) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if asset, ok := m.registry.Lookup(symbol); ok {
		chain = m.resolveChain(asset, chain)
	} else if chain == "" {
		chain = m.defaultChain
	}
	key := monitorKey(symbol, strings.ToLower(chain))

	m.mu.Lock()
	h, ok := m.monitors[key]
	delete(m.monitors, key)
	m.mu.Unlock()

	if !ok {
		return false
	}
	h.stop()
	m.logger.Info("monitoring stopped", applogger.String("symbol", h.info.Symbol), applogger.String("chain", h.info.Chain))
	return true
}

// StopAllMonitoring cancels every registration and returns how many were stopped.
func (m *HealthMonitor) StopAllMonitoring() int {
	m.mu.Lock()
	handles := make([]*monitorHandle, 0, len(m.monitors))
	for key, h := range m.monitors {
		handles = append(handles, h)
		delete(m.monitors, key)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.stop()
	}
	if len(handles) > 0 {
		m.logger.Info("all monitoring stopped", applogger.Int("count", len(handles)))
	}
	return len(handles)
}

// ActiveMonitors lists registrations ordered by symbol then chain.
func (m *HealthMonitor) ActiveMonitors() []models.MonitorInfo {
	m.mu.Lock()
	out := make([]models.MonitorInfo, 0, len(m.monitors))
	for _, h := range m.monitors {
		out = append(out, h.info)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Chain < out[j].Chain
	})
	return out
}

func (m *HealthMonitor) resolveChain(asset models.AssetMetadata, chain string) string {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain != "" {
		return chain
	}
	if asset.DefaultChain != "" {
		return strings.ToLower(asset.DefaultChain)
	}
	return m.defaultChain
}

func (m *HealthMonitor) recordObservations(observations []models.PriceObservation) {
	counts := make(map[string]int)
	for _, o := range observations {
		counts[o.Source]++
	}
	for source, n := range counts {
		m.metrics.RecordObservations(source, n)
	}
}

func (h *monitorHandle) stop() {
	h.cancel()
	<-h.done
}

func monitorKey(symbol, chain string) string {
	return symbol + ":" + chain
}

func forSymbol(observations []models.PriceObservation, symbol string) []models.PriceObservation {
	out := observations[:0:0]
	for _, o := range observations {
		if o.Symbol == "" || strings.EqualFold(o.Symbol, symbol) {
			out = append(out, o)
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type discardEvents struct{}

func (discardEvents) EmitDepeg(context.Context, models.DepegEvent)           {}
func (discardEvents) EmitRiskChange(context.Context, models.RiskChangeEvent) {}
