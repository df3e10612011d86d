package usecase

import (
	"context"
	"sync"

	"PegWatch/internal/domain/models"
	drepo "PegWatch/internal/domain/repository"
	mid "PegWatch/internal/middleware"
	applogger "PegWatch/pkg/logger"
)

// StreamCollector reads a market stream into the ingest pipeline and
// reconnects when the stream fails.
type StreamCollector struct {
	stream  drepo.MarketStream
	pipe    *mid.IngestPipeline
	metrics drepo.Metrics
	log     *applogger.Logger
	wg      sync.WaitGroup
}

func NewStreamCollector(stream drepo.MarketStream, pipe *mid.IngestPipeline, metrics drepo.Metrics, log *applogger.Logger) *StreamCollector {
	if metrics == nil {
		metrics = drepo.NoopMetrics{}
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &StreamCollector{stream: stream, pipe: pipe, metrics: metrics, log: log}
}

// IsConnected returns true if the market stream is connected.
func (c *StreamCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and consumes in the background until ctx is done.
func (c *StreamCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		_ = c.stream.Close()
		return err
	}
	c.pipe.Start(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx)
	}()
	return nil
}

func (c *StreamCollector) consume(ctx context.Context) {
	for {
		obsCh, errCh := c.stream.Read(ctx)
		if !c.drain(ctx, obsCh, errCh) {
			return
		}
		c.metrics.RecordError("stream")
		for {
			if ctx.Err() != nil {
				return
			}
			err := c.stream.Reconnect(ctx)
			if err == nil {
				break
			}
			c.log.Warn("stream reconnect failed", applogger.Error(err))
		}
	}
}

// drain forwards observations until the stream fails (true) or ctx is done (false).
func (c *StreamCollector) drain(ctx context.Context, obsCh <-chan *models.PriceObservation, errCh <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			c.log.Warn("stream read failed", applogger.Error(err))
			return true
		case obs, ok := <-obsCh:
			if !ok {
				return ctx.Err() == nil
			}
			if err := c.pipe.Process(ctx, obs); err != nil {
				c.log.Debug("stream observation rejected",
					applogger.String("symbol", obs.Symbol),
					applogger.String("source", obs.Source),
					applogger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the pipeline, closes the stream and waits for the consumer.
// ctx passed to Start must be cancelled first.
func (c *StreamCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
