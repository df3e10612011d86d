package middleware

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"PegWatch/internal/domain/models"
	domrepo "PegWatch/internal/domain/repository"
	"PegWatch/internal/service/ratelimit"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, obs *models.PriceObservation) error
}

// IngestPipeline sits between pushed feeds (WebSocket, Kafka) and the
// observation processor. It validates, throttles per (symbol, source),
// optionally transforms, and buffers when downstream fails.
type IngestPipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	throttle  *ratelimit.Limiter
	bufSize   int
	maxSkew   time.Duration
	bufCh     chan *models.PriceObservation
	stopCh    chan struct{}
	mu        sync.Mutex
	transform func(*models.PriceObservation) *models.PriceObservation
	now       func() time.Time
}

const defaultMaxRPS = 20

type PipelineOption func(*IngestPipeline)

// WithMaxRPS allows n observations per second per (symbol, source).
func WithMaxRPS(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.throttle = ratelimit.New(float64(n), 1)
		}
	}
}

// WithThrottle sets the keyed limiter consulted per (symbol, source).
func WithThrottle(l *ratelimit.Limiter) PipelineOption {
	return func(p *IngestPipeline) {
		if l != nil {
			p.throttle = l
		}
	}
}

// WithBufferSize sets the retry buffer size used while downstream fails.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMaxClockSkew rejects observations stamped further than d in the future.
func WithMaxClockSkew(d time.Duration) PipelineOption {
	return func(p *IngestPipeline) {
		if d > 0 {
			p.maxSkew = d
		}
	}
}

// WithTransform sets a hook that may rewrite an observation before it is
// throttled. Its output is validated again.
func WithTransform(fn func(*models.PriceObservation) *models.PriceObservation) PipelineOption {
	return func(p *IngestPipeline) { p.transform = fn }
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *IngestPipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewIngestPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	if metrics == nil {
		metrics = domrepo.NoopMetrics{}
	}
	p := &IngestPipeline{
		proc:     proc,
		metrics:  metrics,
		throttle: ratelimit.New(defaultMaxRPS, 1),
		bufSize:  1000,
		maxSkew:  time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.PriceObservation, p.bufSize)
	return p
}

// Start launches the retry loop for buffered observations.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stopCh = stop
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case obs := <-p.bufCh:
				if err := p.proc.Process(ctx, obs); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					select {
					case <-time.After(backoff):
					case <-stop:
						return
					}
					select {
					case p.bufCh <- obs:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
					continue
				}
				backoff = 50 * time.Millisecond
			}
		}
	}()
}

// Stop stops the retry loop. Buffered observations stay queued for the
// next Start.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	p.stopCh = nil
}

// Process validates, throttles and forwards obs. Throttled observations are
// dropped without error.
func (p *IngestPipeline) Process(ctx context.Context, obs *models.PriceObservation) error {
	start := p.now()
	if err := p.validate(obs, start); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		obs = p.transform(obs)
		if err := p.validate(obs, start); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.throttle.AllowAt(obs.Symbol+"|"+obs.Source, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, obs); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- obs:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordObservations(obs.Source, 1)
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// Buffered returns the number of observations waiting for retry.
func (p *IngestPipeline) Buffered() int { return len(p.bufCh) }

func (p *IngestPipeline) validate(obs *models.PriceObservation, now time.Time) error {
	if obs == nil {
		return fmt.Errorf("observation nil")
	}
	if strings.TrimSpace(obs.Symbol) == "" {
		return fmt.Errorf("symbol empty")
	}
	if obs.Source == "" {
		return fmt.Errorf("source empty")
	}
	if obs.Price <= 0 || math.IsNaN(obs.Price) || math.IsInf(obs.Price, 0) {
		return fmt.Errorf("price invalid: %v", obs.Price)
	}
	if obs.Timestamp.IsZero() {
		return fmt.Errorf("timestamp missing")
	}
	if obs.Timestamp.After(now.Add(p.maxSkew)) {
		return fmt.Errorf("timestamp in the future: %s", obs.Timestamp)
	}
	return nil
}
