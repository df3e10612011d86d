package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, tracer, err := InitTracer(context.Background(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil || tracer == nil {
		t.Fatal("expected tracer provider")
	}
	_, span := tracer.Start(context.Background(), "noop")
	if span.SpanContext().IsSampled() {
		t.Fatal("disabled tracer must not sample")
	}
	span.End()
}

func TestInitTracerEnabledWithStubExporter(t *testing.T) {
	orig := newTraceExporter
	defer func() { newTraceExporter = orig }()

	stub := &stubExporter{}
	newTraceExporter = func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		stub.endpoint = cfg.Endpoint
		return stub, nil
	}

	tp, tracer, err := InitTracer(context.Background(), Config{Enabled: true, Endpoint: "collector:4317", SampleRatio: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracer == nil {
		t.Fatal("expected tracer")
	}
	if stub.endpoint != "collector:4317" {
		t.Fatalf("expected endpoint to be propagated, got %s", stub.endpoint)
	}

	_, span := tracer.Start(context.Background(), "sampled")
	if !span.SpanContext().IsSampled() {
		t.Fatal("expected sampled span")
	}
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracerExporterError(t *testing.T) {
	orig := newTraceExporter
	defer func() { newTraceExporter = orig }()
	newTraceExporter = func(context.Context, Config) (sdktrace.SpanExporter, error) {
		return nil, errors.New("dial failed")
	}

	if _, _, err := InitTracer(context.Background(), Config{Enabled: true}); err == nil {
		t.Fatal("expected error")
	}
}

type stubExporter struct {
	endpoint string
}

func (s *stubExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (s *stubExporter) Shutdown(ctx context.Context) error {
	return nil
}
