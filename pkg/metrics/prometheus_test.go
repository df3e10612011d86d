package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"PegWatch/internal/domain/models"
	"PegWatch/internal/domain/repository"
)

var _ repository.Metrics = (*Recorder)(nil)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordHealthCheck("USDT", "ethereum", models.StatusHealthy)
	r.RecordHealthCheck("USDT", "ethereum", models.StatusHealthy)
	r.RecordCacheResult("health", true)
	r.RecordCacheResult("health", false)
	r.RecordRiskScore("USDT", "ethereum", 27)
	r.RecordDeviation("USDT", "ethereum", 0.12)
	r.RecordEvent(models.EventDepeg, "USDT")
	r.RecordObservations("coingecko", 3)
	r.RecordObservations("coingecko", 0)
	r.RecordError("source")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.healthChecks.WithLabelValues("USDT", "ethereum", "healthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheResults.WithLabelValues("health", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheResults.WithLabelValues("health", "false")))
	assert.Equal(t, 27.0, testutil.ToFloat64(r.riskScore.WithLabelValues("USDT", "ethereum")))
	assert.Equal(t, 0.12, testutil.ToFloat64(r.deviation.WithLabelValues("USDT", "ethereum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.events.WithLabelValues("depeg", "USDT")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.observations.WithLabelValues("coingecko")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("source")))
}

func TestRecorderRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.RecordLatency("health_check", 0.2)

	assert.Equal(t, 1, testutil.CollectAndCount(r.latency))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
