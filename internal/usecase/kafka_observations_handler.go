package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PegWatch/internal/domain/models"
	domrepo "PegWatch/internal/domain/repository"
	mid "PegWatch/internal/middleware"
	pkgkafka "PegWatch/pkg/kafka"
)

// KafkaObservationsHandler feeds JSON observations from a topic into the
// ingest pipeline. Schema: {symbol, price, source, t, liquidity?, volume?}
// with t in unix ms (seconds accepted).
type KafkaObservationsHandler struct {
	topic   string
	pipe    *mid.IngestPipeline
	metrics domrepo.Metrics
}

func NewKafkaObservationsHandler(topic string, pipe *mid.IngestPipeline, metrics domrepo.Metrics) *KafkaObservationsHandler {
	if metrics == nil {
		metrics = domrepo.NoopMetrics{}
	}
	return &KafkaObservationsHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

// Handle returns decode errors so the consumer can route them to the DLQ.
// Observations rejected by validation are dropped without error; retrying
// them cannot succeed.
func (h *KafkaObservationsHandler) Handle(ctx context.Context, b []byte) error {
	var m models.ObservationMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode observation: %w", err)
	}
	if m.Source == "" {
		m.Source = "kafka"
	}
	obs := m.Observation()
	if !obs.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(obs.Timestamp).Seconds())
	}

	if err := h.pipe.Process(ctx, obs); err != nil {
		h.metrics.RecordError("consumer_process")
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)
