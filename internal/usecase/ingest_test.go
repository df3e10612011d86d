package usecase

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PegWatch/internal/domain/models"
	mid "PegWatch/internal/middleware"
	"PegWatch/internal/service/stream"
)

type memArchive struct {
	mu      sync.Mutex
	batches [][]*models.PriceObservation
	err     error
}

func (a *memArchive) StoreBatch(_ context.Context, batch []*models.PriceObservation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.batches = append(a.batches, batch)
	return nil
}

func (a *memArchive) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, b := range a.batches {
		n += len(b)
	}
	return n
}

func liveObs(symbol, source string, price float64) *models.PriceObservation {
	return &models.PriceObservation{Symbol: symbol, Source: source, Price: price, Timestamp: time.Now()}
}

func TestObservationProcessorBatches(t *testing.T) {
	buf := stream.NewBuffer(time.Minute)
	archive := &memArchive{}
	proc := NewObservationProcessor(buf, archive, nil, nil, 2, time.Hour)
	ctx := context.Background()

	require.NoError(t, proc.Process(ctx, liveObs("USDT", "a", 1)))
	assert.Equal(t, 1, proc.Pending())
	assert.Zero(t, archive.total())

	require.NoError(t, proc.Process(ctx, liveObs("USDT", "b", 1.001)))
	assert.Zero(t, proc.Pending())
	assert.Equal(t, 2, archive.total())
	assert.Equal(t, 2, buf.Len())

	assert.Error(t, proc.Process(ctx, nil))
}

func TestObservationProcessorFlushError(t *testing.T) {
	buf := stream.NewBuffer(time.Minute)
	archive := &memArchive{err: errors.New("disk full")}
	proc := NewObservationProcessor(buf, archive, nil, nil, 10, time.Hour)

	require.NoError(t, proc.Process(context.Background(), liveObs("DAI", "a", 1)))
	assert.ErrorContains(t, proc.Flush(context.Background()), "disk full")
	assert.Zero(t, proc.Pending())
	assert.Equal(t, 1, buf.Len())
}

func TestObservationProcessorRunFlushesOnStop(t *testing.T) {
	archive := &memArchive{}
	proc := NewObservationProcessor(stream.NewBuffer(time.Minute), archive, nil, nil, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()

	require.NoError(t, proc.Process(context.Background(), liveObs("USDC", "a", 1)))
	cancel()
	<-done
	assert.Equal(t, 1, archive.total())
}

func TestObservationProcessorWithoutArchive(t *testing.T) {
	proc := NewObservationProcessor(stream.NewBuffer(time.Minute), nil, nil, nil, 1, time.Second)
	require.NoError(t, proc.Process(context.Background(), liveObs("USDC", "a", 1)))
	assert.Zero(t, proc.Pending())
	assert.NoError(t, proc.Flush(context.Background()))
}

func TestKafkaObservationsHandler(t *testing.T) {
	buf := stream.NewBuffer(time.Minute)
	pipe := mid.NewIngestPipeline(NewObservationProcessor(buf, nil, nil, nil, 0, 0), nil)
	h := NewKafkaObservationsHandler("pegwatch.observations", pipe, nil)
	assert.Equal(t, "pegwatch.observations", h.Topic())

	now := time.Now().UnixMilli()
	payload := []byte(`{"symbol":"usdc","price":0.9995,"source":"dex:uniswap","t":` + strconv.FormatInt(now, 10) + `,"volume":1000}`)
	require.NoError(t, h.Handle(context.Background(), payload))

	obs, err := buf.FetchPrices(context.Background(), []string{"USDC"}, "")
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "dex:uniswap", obs[0].Source)
	require.NotNil(t, obs[0].Volume24h)
	assert.Equal(t, 1000.0, *obs[0].Volume24h)

	assert.Error(t, h.Handle(context.Background(), []byte("{not json")))
	// invalid price is dropped, not retried
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"USDC","price":-1,"t":`+strconv.FormatInt(now, 10)+`}`)))
}

type scriptedStream struct {
	mu         sync.Mutex
	batches    [][]*models.PriceObservation
	reads      int
	reconnects int
	connected  bool
	closed     bool
}

func (s *scriptedStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *scriptedStream) Subscribe(context.Context) error { return nil }

// Read replays the next scripted batch, then fails; once the script is
// exhausted it blocks until ctx is done.
func (s *scriptedStream) Read(ctx context.Context) (<-chan *models.PriceObservation, <-chan error) {
	s.mu.Lock()
	idx := s.reads
	s.reads++
	s.mu.Unlock()

	out := make(chan *models.PriceObservation)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		if idx >= len(s.batches) {
			<-ctx.Done()
			return
		}
		for _, o := range s.batches[idx] {
			select {
			case out <- o:
			case <-ctx.Done():
				return
			}
		}
		errs <- errors.New("connection reset")
	}()
	return out, errs
}

func (s *scriptedStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
	return nil
}

func (s *scriptedStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *scriptedStream) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func TestStreamCollectorReconnects(t *testing.T) {
	src := &scriptedStream{batches: [][]*models.PriceObservation{
		{liveObs("USDT", "finnhub:binance", 1.0001)},
		{liveObs("USDC", "finnhub:binance", 0.9999)},
	}}
	buf := stream.NewBuffer(time.Minute)
	pipe := mid.NewIngestPipeline(NewObservationProcessor(buf, nil, nil, nil, 0, 0), nil)
	c := NewStreamCollector(src, pipe, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsConnected())

	assert.Eventually(t, func() bool { return buf.Len() == 2 && src.reconnectCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, c.Shutdown(shutdownCtx))
	assert.False(t, c.IsConnected())
}
