package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"PegWatch/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	healthChecks *prometheus.CounterVec
	cacheResults *prometheus.CounterVec
	riskScore    *prometheus.GaugeVec
	deviation    *prometheus.GaugeVec
	events       *prometheus.CounterVec
	observations *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		healthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pegwatch_health_checks_total",
				Help: "Health reports produced, by resulting status",
			},
			[]string{"symbol", "chain", "status"},
		),
		cacheResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pegwatch_cache_lookups_total",
				Help: "Fresh-read cache lookups by kind and result",
			},
			[]string{"kind", "hit"},
		),
		riskScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pegwatch_risk_score",
				Help: "Last composite risk score (0-100)",
			},
			[]string{"symbol", "chain"},
		),
		deviation: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pegwatch_peg_deviation_percent",
				Help: "Last absolute peg deviation in percent",
			},
			[]string{"symbol", "chain"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pegwatch_events_total",
				Help: "Events emitted by the health monitor",
			},
			[]string{"type", "symbol"},
		),
		observations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pegwatch_observations_total",
				Help: "Price observations received per source",
			},
			[]string{"source"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pegwatch_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pegwatch_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordHealthCheck(symbol, chain string, status models.HealthStatus) {
	r.healthChecks.WithLabelValues(symbol, chain, string(status)).Inc()
}

func (r *Recorder) RecordCacheResult(kind string, hit bool) {
	r.cacheResults.WithLabelValues(kind, strconv.FormatBool(hit)).Inc()
}

func (r *Recorder) RecordRiskScore(symbol, chain string, score int) {
	r.riskScore.WithLabelValues(symbol, chain).Set(float64(score))
}

func (r *Recorder) RecordDeviation(symbol, chain string, deviation float64) {
	r.deviation.WithLabelValues(symbol, chain).Set(deviation)
}

func (r *Recorder) RecordEvent(kind models.EventType, symbol string) {
	r.events.WithLabelValues(string(kind), symbol).Inc()
}

// RecordObservations adds n observations for source. Non-positive n is ignored.
func (r *Recorder) RecordObservations(source string, n int) {
	if n <= 0 {
		return
	}
	r.observations.WithLabelValues(source).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
