package repository

import (
	"context"
	"time"

	"PegWatch/internal/domain/models"
	domrepo "PegWatch/internal/domain/repository"
	"PegWatch/internal/service/events"
	applogger "PegWatch/pkg/logger"
)

// EventProducer is the publishing slice of pkg/kafka.Producer.
type EventProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaEventPublisher forwards monitor events to a topic, keyed by symbol so a
// symbol's events stay ordered within a partition. Publish failures are logged
// and never reach the emitter.
type KafkaEventPublisher struct {
	producer EventProducer
	topic    string
	timeout  time.Duration
	l        *applogger.Logger
}

func NewKafkaEventPublisher(producer EventProducer, topic string, l *applogger.Logger) *KafkaEventPublisher {
	if l == nil {
		l = applogger.NewNop()
	}
	return &KafkaEventPublisher{producer: producer, topic: topic, timeout: 5 * time.Second, l: l}
}

func (p *KafkaEventPublisher) EmitDepeg(ctx context.Context, e models.DepegEvent) {
	p.publish(ctx, e.Symbol, models.EventEnvelope{Type: models.EventDepeg, Payload: e})
}

func (p *KafkaEventPublisher) EmitRiskChange(ctx context.Context, e models.RiskChangeEvent) {
	p.publish(ctx, e.Symbol, models.EventEnvelope{Type: models.EventRiskChange, Payload: e})
}

// Attach subscribes the publisher to bus and returns a func detaching it.
func (p *KafkaEventPublisher) Attach(bus *events.Bus) func() {
	offDepeg := bus.SubscribeDepeg(p.EmitDepeg)
	offRisk := bus.SubscribeRiskChange(p.EmitRiskChange)
	return func() {
		offDepeg()
		offRisk()
	}
}

func (p *KafkaEventPublisher) publish(ctx context.Context, symbol string, env models.EventEnvelope) {
	// A monitoring tick may already be winding down; the event should still go out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.producer.Publish(ctx, p.topic, []byte(symbol), env); err != nil {
		p.l.Error("kafka event publish failed",
			applogger.String("topic", p.topic),
			applogger.String("event", string(env.Type)),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
	}
}

var _ domrepo.EventSink = (*KafkaEventPublisher)(nil)
