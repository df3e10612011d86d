package stream

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"PegWatch/internal/domain/models"
)

const SourceName = "stream"

// Buffer keeps the latest pushed observation per (symbol, source) and serves
// them as a pull source. Entries older than maxAge are ignored and pruned.
// Pushed observations are chain-agnostic.
type Buffer struct {
	mu     sync.RWMutex
	latest map[string]map[string]models.PriceObservation
	maxAge time.Duration
	now    func() time.Time
}

type Option func(*Buffer)

func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBuffer(maxAge time.Duration, opts ...Option) *Buffer {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	b := &Buffer{
		latest: make(map[string]map[string]models.PriceObservation),
		maxAge: maxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Buffer) Name() string { return SourceName }

// Record stores obs if it is newer than what the buffer holds for its
// (symbol, source) pair.
func (b *Buffer) Record(_ context.Context, obs *models.PriceObservation) error {
	if obs == nil || obs.Symbol == "" || obs.Source == "" {
		return fmt.Errorf("stream: incomplete observation")
	}
	symbol := strings.ToUpper(obs.Symbol)
	o := *obs
	o.Symbol = symbol
	if o.Timestamp.IsZero() {
		o.Timestamp = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	bySource, ok := b.latest[symbol]
	if !ok {
		bySource = make(map[string]models.PriceObservation)
		b.latest[symbol] = bySource
	}
	if prev, ok := bySource[o.Source]; ok && prev.Timestamp.After(o.Timestamp) {
		return nil
	}
	bySource[o.Source] = o
	return nil
}

// FetchPrices returns the fresh observations for symbols, sorted by source.
func (b *Buffer) FetchPrices(_ context.Context, symbols []string, _ string) ([]models.PriceObservation, error) {
	cutoff := b.now().Add(-b.maxAge)

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.PriceObservation
	for _, raw := range symbols {
		bySource := b.latest[strings.ToUpper(raw)]
		start := len(out)
		for _, o := range bySource {
			if o.Timestamp.Before(cutoff) {
				continue
			}
			out = append(out, o)
		}
		group := out[start:]
		sort.Slice(group, func(i, j int) bool { return group[i].Source < group[j].Source })
	}
	return out, nil
}

// IsAvailable reports whether any fresh observation is buffered.
func (b *Buffer) IsAvailable() bool {
	cutoff := b.now().Add(-b.maxAge)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, bySource := range b.latest {
		for _, o := range bySource {
			if !o.Timestamp.Before(cutoff) {
				return true
			}
		}
	}
	return false
}

// Prune drops stale entries and returns how many were removed.
func (b *Buffer) Prune() int {
	cutoff := b.now().Add(-b.maxAge)
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for symbol, bySource := range b.latest {
		for source, o := range bySource {
			if o.Timestamp.Before(cutoff) {
				delete(bySource, source)
				removed++
			}
		}
		if len(bySource) == 0 {
			delete(b.latest, symbol)
		}
	}
	return removed
}

// Run prunes every interval until ctx is done.
func (b *Buffer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = b.maxAge
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Prune()
		}
	}
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, bySource := range b.latest {
		n += len(bySource)
	}
	return n
}
