package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"PegWatch/internal/domain/models"
	domrepo "PegWatch/internal/domain/repository"
	applogger "PegWatch/pkg/logger"
)

const Name = "composite"

// Composite queries several sources concurrently and merges their
// observations. A failing or unavailable member is skipped; FetchPrices
// only fails when no member produced a result.
type Composite struct {
	sources []domrepo.PriceSource
	timeout time.Duration
	tracer  trace.Tracer
	metrics domrepo.Metrics
	log     *applogger.Logger
}

type Option func(*Composite)

// WithTimeout bounds each member fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Composite) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Composite) {
		if t != nil {
			c.tracer = t
		}
	}
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(c *Composite) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Composite) {
		if l != nil {
			c.log = l
		}
	}
}

func NewComposite(sources []domrepo.PriceSource, opts ...Option) *Composite {
	c := &Composite{
		sources: sources,
		timeout: 10 * time.Second,
		tracer:  noop.NewTracerProvider().Tracer(""),
		metrics: domrepo.NoopMetrics{},
		log:     applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Composite) Name() string { return Name }

// Sources returns the member sources in fan-out order.
func (c *Composite) Sources() []domrepo.PriceSource { return c.sources }

type result struct {
	idx int
	obs []models.PriceObservation
	err error
}

// FetchPrices merges member results in member order.
func (c *Composite) FetchPrices(ctx context.Context, symbols []string, chain string) ([]models.PriceObservation, error) {
	ctx, span := c.tracer.Start(ctx, "sources.FetchPrices", trace.WithAttributes(
		attribute.StringSlice("symbols", symbols),
		attribute.String("chain", chain),
	))
	defer span.End()

	if len(c.sources) == 0 {
		return nil, fmt.Errorf("no price sources configured")
	}

	results := make(chan result, len(c.sources))
	var wg sync.WaitGroup
	for i, src := range c.sources {
		if !src.IsAvailable() {
			results <- result{idx: i, err: fmt.Errorf("%s: unavailable", src.Name())}
			continue
		}
		wg.Add(1)
		go func(i int, src domrepo.PriceSource) {
			defer wg.Done()
			results <- c.fetchOne(ctx, i, src, symbols, chain)
		}(i, src)
	}
	wg.Wait()
	close(results)

	perSource := make([][]models.PriceObservation, len(c.sources))
	var errs []error
	succeeded := 0
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		succeeded++
		perSource[r.idx] = r.obs
	}

	if succeeded == 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "all sources failed")
		return nil, fmt.Errorf("all price sources failed: %w", err)
	}

	var merged []models.PriceObservation
	for _, obs := range perSource {
		merged = append(merged, obs...)
	}
	span.SetAttributes(attribute.Int("observations", len(merged)), attribute.Int("failed_sources", len(errs)))
	return merged, nil
}

func (c *Composite) fetchOne(ctx context.Context, idx int, src domrepo.PriceSource, symbols []string, chain string) (r result) {
	r.idx = idx
	defer func() {
		if p := recover(); p != nil {
			r = result{idx: idx, err: fmt.Errorf("%s: panic: %v", src.Name(), p)}
		}
		if r.err != nil {
			c.metrics.RecordError("source_" + src.Name())
			c.log.Warn("price source failed",
				applogger.String("source", src.Name()),
				applogger.String("chain", chain),
				applogger.Error(r.err),
			)
		}
	}()

	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	obs, err := src.FetchPrices(fctx, symbols, chain)
	c.metrics.RecordLatency("source_"+src.Name(), time.Since(start).Seconds())
	if err != nil {
		r.err = fmt.Errorf("%s: %w", src.Name(), err)
		return r
	}
	r.obs = obs
	return r
}

// IsAvailable reports whether at least one member is available.
func (c *Composite) IsAvailable() bool {
	for _, src := range c.sources {
		if src.IsAvailable() {
			return true
		}
	}
	return false
}

// Availability reports each member's availability by name.
func (c *Composite) Availability() map[string]bool {
	out := make(map[string]bool, len(c.sources))
	for _, src := range c.sources {
		out[src.Name()] = src.IsAvailable()
	}
	return out
}

var _ domrepo.PriceSource = (*Composite)(nil)
