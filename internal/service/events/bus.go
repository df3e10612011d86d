package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"PegWatch/internal/domain/models"
	applogger "PegWatch/pkg/logger"
)

type DepegHandler func(ctx context.Context, e models.DepegEvent)

type RiskChangeHandler func(ctx context.Context, e models.RiskChangeEvent)

// Option configures a Bus.
type Option func(*Bus)

func WithLogger(l *applogger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// Bus is an in-process callback registry. Handlers run synchronously in
// subscription order; a panicking handler is logged and skipped.
type Bus struct {
	mu         sync.RWMutex
	nextID     uint64
	depeg      map[uint64]DepegHandler
	riskChange map[uint64]RiskChangeHandler
	order      []uint64
	logger     *applogger.Logger
	now        func() time.Time
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		depeg:      make(map[uint64]DepegHandler),
		riskChange: make(map[uint64]RiskChangeHandler),
		logger:     applogger.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubscribeDepeg registers h and returns a func that removes it.
func (b *Bus) SubscribeDepeg(h DepegHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.depeg[id] = h
	return b.unsubscriber(id)
}

// SubscribeRiskChange registers h and returns a func that removes it.
func (b *Bus) SubscribeRiskChange(h RiskChangeHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.riskChange[id] = h
	return b.unsubscriber(id)
}

func (b *Bus) register() uint64 {
	b.nextID++
	b.order = append(b.order, b.nextID)
	return b.nextID
}

func (b *Bus) unsubscriber(id uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.depeg, id)
			delete(b.riskChange, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers returns the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

func (b *Bus) EmitDepeg(ctx context.Context, e models.DepegEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.RLock()
	handlers := make([]DepegHandler, 0, len(b.depeg))
	for _, id := range b.order {
		if h, ok := b.depeg[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(string(models.EventDepeg), e.Symbol, func() { h(ctx, e) })
	}
}

func (b *Bus) EmitRiskChange(ctx context.Context, e models.RiskChangeEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.RLock()
	handlers := make([]RiskChangeHandler, 0, len(b.riskChange))
	for _, id := range b.order {
		if h, ok := b.riskChange[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(string(models.EventRiskChange), e.Symbol, func() { h(ctx, e) })
	}
}

func (b *Bus) safeCall(kind, symbol string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				applogger.String("event", kind),
				applogger.String("symbol", symbol),
				applogger.Error(fmt.Errorf("%v", r)),
			)
		}
	}()
	fn()
}
