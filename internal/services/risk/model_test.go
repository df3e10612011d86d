package risk

import (
	"strings"
	"testing"
	"time"

	"PegWatch/internal/domain/models"
	"PegWatch/internal/services/aggregation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdt = models.AssetMetadata{Symbol: "USDT", Kind: models.AssetKindFiatBacked, PegCurrency: "USD", TargetPrice: 1}
	dai  = models.AssetMetadata{Symbol: "DAI", Kind: models.AssetKindCryptoBacked, PegCurrency: "USD", TargetPrice: 1}
)

func newModel(t *testing.T, opts ...Option) *Model {
	t.Helper()
	m, err := NewModel(DefaultThresholds(), opts...)
	require.NoError(t, err)
	return m
}

func ptr(v float64) *float64 { return &v }

func observations(prices ...float64) []models.PriceObservation {
	out := make([]models.PriceObservation, 0, len(prices))
	for _, p := range prices {
		out = append(out, models.PriceObservation{Symbol: "USDT", Price: p, Source: "test", Timestamp: time.Now()})
	}
	return out
}

func TestNewModelRejectsInvalidThresholds(t *testing.T) {
	bad := []Thresholds{
		{DepegWarning: 2, DepegCritical: 1, RiskHigh: 70, RiskMedium: 40, MaxDeviation: 5},
		{DepegWarning: 0.5, DepegCritical: 2, RiskHigh: 30, RiskMedium: 40, MaxDeviation: 5},
		{DepegWarning: 0.5, DepegCritical: 2, RiskHigh: 70, RiskMedium: 40, MaxDeviation: 0},
	}
	for _, th := range bad {
		_, err := NewModel(th)
		assert.Error(t, err)
	}
}

func TestCombineBounds(t *testing.T) {
	m := newModel(t)
	values := []float64{0, 1, 50, 99, 100}
	for _, pd := range values {
		for _, liq := range values {
			for _, vol := range values {
				for _, volume := range values {
					metrics := models.RiskMetrics{PriceDeviation: pd, Liquidity: liq, Volatility: vol, Volume: volume}
					score := m.Combine(metrics)
					assert.GreaterOrEqual(t, score, 0)
					assert.LessOrEqual(t, score, 100)

					metrics.Collateral = ptr(liq)
					score = m.Combine(metrics)
					assert.GreaterOrEqual(t, score, 0)
					assert.LessOrEqual(t, score, 100)
				}
			}
		}
	}
}

func TestCombineExtremes(t *testing.T) {
	m := newModel(t)
	worst := models.RiskMetrics{PriceDeviation: 100, Liquidity: 0, Volatility: 100, Volume: 0, Collateral: ptr(0)}
	best := models.RiskMetrics{PriceDeviation: 0, Liquidity: 100, Volatility: 0, Volume: 100, Collateral: ptr(100)}

	assert.Equal(t, 100, m.Combine(worst))
	assert.Equal(t, 0, m.Combine(best))

	worst.Collateral = nil
	assert.Equal(t, 100, m.Combine(worst))
}

func TestCombineIsMonotonic(t *testing.T) {
	m := newModel(t)
	base := models.RiskMetrics{PriceDeviation: 10, Liquidity: 60, Volatility: 20, Volume: 50}

	prev := -1
	for pd := 0.0; pd <= 100; pd += 5 {
		metrics := base
		metrics.PriceDeviation = pd
		score := m.Combine(metrics)
		assert.GreaterOrEqual(t, score, prev, "price deviation %v", pd)
		prev = score
	}

	prev = 101
	for liq := 0.0; liq <= 100; liq += 5 {
		metrics := base
		metrics.Liquidity = liq
		score := m.Combine(metrics)
		assert.LessOrEqual(t, score, prev, "liquidity %v", liq)
		prev = score
	}
}

func TestCombineRenormalizesWithoutCollateral(t *testing.T) {
	m := newModel(t)
	metrics := models.RiskMetrics{PriceDeviation: 100, Liquidity: 50, Volatility: 0, Volume: 50}

	// (40 + 12.5 + 0 + 5) / 0.95
	assert.Equal(t, 61, m.Combine(metrics))
}

func TestClassifyLevel(t *testing.T) {
	m := newModel(t)
	cases := map[int]models.RiskLevel{
		0:   models.RiskLevelLow,
		19:  models.RiskLevelLow,
		20:  models.RiskLevelMedium,
		39:  models.RiskLevelMedium,
		40:  models.RiskLevelHigh,
		69:  models.RiskLevelHigh,
		70:  models.RiskLevelCritical,
		100: models.RiskLevelCritical,
	}
	for score, want := range cases {
		assert.Equal(t, want, m.ClassifyLevel(score), "score %d", score)
	}
}

func TestClassifyStatus(t *testing.T) {
	m := newModel(t)
	cases := []struct {
		deviation float64
		score     int
		want      models.HealthStatus
	}{
		{0, 0, models.StatusHealthy},
		{0.49, 39, models.StatusHealthy},
		{0.1, 40, models.StatusWarning},
		{0.5, 0, models.StatusCritical},
		{0.1, 70, models.StatusCritical},
		{2.0, 0, models.StatusDepegged},
		{0, 90, models.StatusDepegged},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, m.ClassifyStatus(tc.deviation, tc.score), "dev=%v score=%d", tc.deviation, tc.score)
	}
}

func TestClassifyStatusIsPure(t *testing.T) {
	m := newModel(t)
	first := m.ClassifyStatus(0.7, 55)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, m.ClassifyStatus(0.7, 55))
	}
}

func TestScoreMetricsNeutralWhenDataAbsent(t *testing.T) {
	m := newModel(t)
	agg := aggregation.New().Aggregate(observations(1.0), 1.0)

	metrics := m.ScoreMetrics(agg, LiquidityFromObservations(agg.Sources), usdt)
	assert.Equal(t, NeutralScore, metrics.Liquidity)
	assert.Equal(t, NeutralScore, metrics.Volume)
	assert.Zero(t, metrics.Volatility)
	assert.Zero(t, metrics.PriceDeviation)
	assert.Nil(t, metrics.Collateral)
}

func TestScoreMetricsCollateralOnlyForCryptoBacked(t *testing.T) {
	m := newModel(t, WithCollateralScorer(StaticCollateralScorer{Value: 42}))
	agg := aggregation.New().Aggregate(observations(1.0), 1.0)

	metrics := m.ScoreMetrics(agg, models.LiquidityInfo{}, dai)
	require.NotNil(t, metrics.Collateral)
	assert.Equal(t, 42.0, *metrics.Collateral)
}

func TestScoreMetricsTiers(t *testing.T) {
	m := newModel(t)
	agg := aggregation.New().Aggregate(observations(1.0), 1.0)

	metrics := m.ScoreMetrics(agg, models.LiquidityInfo{TotalUSD: ptr(2e9), Volume24h: ptr(5e5)}, usdt)
	assert.Equal(t, 100.0, metrics.Liquidity)
	assert.Equal(t, 15.0, metrics.Volume)

	metrics = m.ScoreMetrics(agg, models.LiquidityInfo{TotalUSD: ptr(10), Volume24h: ptr(0)}, usdt)
	assert.Equal(t, 10.0, metrics.Liquidity)
	assert.Equal(t, 5.0, metrics.Volume)
}

func TestScoreMetricsPriceDeviationClamped(t *testing.T) {
	m := newModel(t)
	metrics := m.ScoreMetrics(models.AggregatedPrice{Deviation: 2.5}, models.LiquidityInfo{}, usdt)
	assert.InDelta(t, 50.0, metrics.PriceDeviation, 1e-9)

	metrics = m.ScoreMetrics(models.AggregatedPrice{Deviation: 40}, models.LiquidityInfo{}, usdt)
	assert.Equal(t, 100.0, metrics.PriceDeviation)
}

func TestLiquidityFromObservations(t *testing.T) {
	obs := observations(1.0, 1.0, 1.0)
	obs[0].Liquidity = ptr(100)
	obs[2].Liquidity = ptr(50)
	obs[1].Volume24h = ptr(7)

	info := LiquidityFromObservations(obs)
	require.NotNil(t, info.TotalUSD)
	require.NotNil(t, info.Volume24h)
	assert.Equal(t, 150.0, *info.TotalUSD)
	assert.Equal(t, 7.0, *info.Volume24h)
	assert.Equal(t, 3, info.SourceCount)
}

func TestAlerts(t *testing.T) {
	m := newModel(t)

	t.Run("critical deviation", func(t *testing.T) {
		alerts := m.Alerts("USDT", 3.2, 50, models.RiskMetrics{PriceDeviation: 64, Liquidity: 50, Volume: 50})
		require.Len(t, alerts, 1)
		assert.True(t, IsCritical(alerts[0]))
		assert.Contains(t, alerts[0], "3.20%")
	})

	t.Run("warning deviation", func(t *testing.T) {
		alerts := m.Alerts("USDC", 0.75, 10, models.RiskMetrics{PriceDeviation: 15, Liquidity: 50, Volume: 50})
		require.Len(t, alerts, 1)
		assert.True(t, strings.HasPrefix(alerts[0], AlertPrefixWarning))
	})

	t.Run("sub-score alerts in order", func(t *testing.T) {
		alerts := m.Alerts("DAI", 0, 60, models.RiskMetrics{
			PriceDeviation: 80, Liquidity: 10, Volatility: 90, Volume: 5, Collateral: ptr(20),
		})
		require.Len(t, alerts, 5)
		assert.Contains(t, alerts[0], "price deviation")
		assert.Contains(t, alerts[1], "liquidity")
		assert.Contains(t, alerts[2], "volatility")
		assert.Contains(t, alerts[3], "volume")
		assert.Contains(t, alerts[4], "collateral")
	})

	t.Run("elevated risk only when nothing else fired", func(t *testing.T) {
		quiet := models.RiskMetrics{PriceDeviation: 50, Liquidity: 50, Volatility: 50, Volume: 50}
		alerts := m.Alerts("USDT", 0.1, 75, quiet)
		require.Len(t, alerts, 1)
		assert.Contains(t, alerts[0], "Elevated risk")

		assert.Empty(t, m.Alerts("USDT", 0.1, 69, quiet))

		noisy := quiet
		noisy.Liquidity = 5
		alerts = m.Alerts("USDT", 0.1, 75, noisy)
		require.Len(t, alerts, 1)
		assert.NotContains(t, alerts[0], "Elevated risk")
	})
}

func TestEvaluateHealthyCluster(t *testing.T) {
	m := newModel(t)
	agg := aggregation.New().Aggregate(observations(1.00, 1.01, 0.99), 1.0)

	got, err := m.Evaluate(usdt, agg)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHealthy, got.Status)
	assert.Less(t, got.Score, 40)
}

func TestEvaluateDepegged(t *testing.T) {
	m := newModel(t)
	agg := aggregation.New().Aggregate(observations(0.95), 1.0)

	got, err := m.Evaluate(usdt, agg)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDepegged, got.Status)

	critical := 0
	for _, a := range got.Alerts {
		if IsCritical(a) {
			critical++
		}
	}
	assert.GreaterOrEqual(t, critical, 1)
}

func TestEvaluateRejectsNonFinite(t *testing.T) {
	m := newModel(t)
	zero := 0.0
	_, err := m.Evaluate(usdt, models.AggregatedPrice{Price: 1 / zero})
	assert.Error(t, err)
}
