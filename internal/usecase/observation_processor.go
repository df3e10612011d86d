package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PegWatch/internal/domain/models"
	drepo "PegWatch/internal/domain/repository"
	applogger "PegWatch/pkg/logger"
)

// ObservationProcessor records pushed observations into the live sink and,
// when an archive is configured, batches them for persistence.
type ObservationProcessor struct {
	sink    drepo.ObservationSink
	archive drepo.ObservationArchive
	metrics drepo.Metrics
	log     *applogger.Logger
	batchSz int
	batchTO time.Duration

	mu      sync.Mutex
	pending []*models.PriceObservation
}

// NewObservationProcessor creates a processor. archive may be nil.
func NewObservationProcessor(
	sink drepo.ObservationSink,
	archive drepo.ObservationArchive,
	metrics drepo.Metrics,
	log *applogger.Logger,
	batchSz int,
	batchTO time.Duration,
) *ObservationProcessor {
	if metrics == nil {
		metrics = drepo.NoopMetrics{}
	}
	if log == nil {
		log = applogger.NewNop()
	}
	if batchSz <= 0 {
		batchSz = 500
	}
	if batchTO <= 0 {
		batchTO = time.Second
	}
	return &ObservationProcessor{
		sink:    sink,
		archive: archive,
		metrics: metrics,
		log:     log,
		batchSz: batchSz,
		batchTO: batchTO,
	}
}

// Process records obs in the sink and queues it for the archive.
func (p *ObservationProcessor) Process(ctx context.Context, obs *models.PriceObservation) error {
	if obs == nil {
		return fmt.Errorf("observation is nil")
	}
	if err := p.sink.Record(ctx, obs); err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("record observation: %w", err)
	}
	if p.archive == nil {
		return nil
	}

	p.mu.Lock()
	p.pending = append(p.pending, obs)
	full := len(p.pending) >= p.batchSz
	p.mu.Unlock()

	if full {
		return p.Flush(ctx)
	}
	return nil
}

// Flush writes queued observations to the archive. On failure the batch is
// dropped and the error returned; the live sink already holds the data.
func (p *ObservationProcessor) Flush(ctx context.Context) error {
	if p.archive == nil {
		return nil
	}
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := p.archive.StoreBatch(ctx, batch); err != nil {
		p.metrics.RecordError("archive_batch")
		p.log.Error("observation archive failed", applogger.Int("batch", len(batch)), applogger.Error(err))
		return fmt.Errorf("archive batch: %w", err)
	}
	p.metrics.RecordLatency("archive_batch", time.Since(start).Seconds())
	return nil
}

// Run flushes every batch timeout until ctx is done, then flushes once more.
func (p *ObservationProcessor) Run(ctx context.Context) {
	if p.archive == nil {
		return
	}
	ticker := time.NewTicker(p.batchTO)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = p.Flush(fctx)
			cancel()
			return
		case <-ticker.C:
			_ = p.Flush(ctx)
		}
	}
}

// Pending returns the number of observations waiting for the archive.
func (p *ObservationProcessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
