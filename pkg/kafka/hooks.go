package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	applogger "PegWatch/pkg/logger"
)

// ConsumerHook runs around each handler attempt. An error from BeforeHandle
// skips the handler and counts as a failed attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, []byte, error) {}

// TraceHook continues the producer's trace from message headers, opens one
// span per handler attempt and logs retried failures.
type TraceHook struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     *applogger.Logger
}

func NewTraceHook(tracer trace.Tracer, l *applogger.Logger) *TraceHook {
	if l == nil {
		l = applogger.NewNop()
	}
	return &TraceHook{tracer: tracer, propagator: otel.GetTextMapPropagator(), logger: l}
}

func (h *TraceHook) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	ctx = h.propagator.Extract(ctx, headerCarrier{&km.Headers})
	if h.tracer == nil {
		return ctx, km, data, nil
	}
	ctx, _ = h.tracer.Start(ctx, "kafka.consume "+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", topic),
			attribute.Int("messaging.kafka.partition", km.Partition),
			attribute.Int64("messaging.kafka.offset", km.Offset),
			attribute.String("messaging.kafka.message.key", string(km.Key)),
		))
	return ctx, km, data, nil
}

func (h *TraceHook) AfterHandle(ctx context.Context, _ string, _ kafka.Message, _ []byte, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (h *TraceHook) OnError(_ context.Context, topic string, km kafka.Message, _ []byte, err error) {
	h.logger.Warn("kafka handler attempt failed",
		applogger.String("topic", topic),
		applogger.Int("partition", km.Partition),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err),
	)
}

// headerCarrier adapts kafka headers to the otel propagation API.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(*c.headers))
	for i, h := range *c.headers {
		keys[i] = h.Key
	}
	return keys
}
