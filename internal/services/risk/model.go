package risk

import (
	"fmt"
	"math"

	"PegWatch/internal/domain/models"
	domsvc "PegWatch/internal/domain/service"
	"PegWatch/internal/services/features"
)

const (
	// lowMediumBreakpoint separates the low and medium risk levels.
	lowMediumBreakpoint = 20

	// depeggedScore forces the depegged status regardless of deviation.
	depeggedScore = 90

	defaultVolatilityScale = 50.0
	defaultCollateralScore = 75.0
	subScoreAlertHigh      = 70.0
	subScoreAlertLow       = 30.0
	collateralAlertLow     = 50.0
)

// Thresholds are percentages for deviation and 0-100 points for scores.
type Thresholds struct {
	DepegWarning  float64 `yaml:"depeg_warning" json:"depeg_warning"`
	DepegCritical float64 `yaml:"depeg_critical" json:"depeg_critical"`
	RiskHigh      float64 `yaml:"risk_high" json:"risk_high"`
	RiskMedium    float64 `yaml:"risk_medium" json:"risk_medium"`
	MaxDeviation  float64 `yaml:"max_deviation" json:"max_deviation"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DepegWarning:  0.5,
		DepegCritical: 2.0,
		RiskHigh:      70,
		RiskMedium:    40,
		MaxDeviation:  5,
	}
}

func (t Thresholds) Validate() error {
	if t.DepegWarning <= 0 || t.DepegCritical <= t.DepegWarning {
		return fmt.Errorf("depeg thresholds must satisfy 0 < warning < critical, got %v/%v", t.DepegWarning, t.DepegCritical)
	}
	if t.RiskMedium <= 0 || t.RiskHigh <= t.RiskMedium || t.RiskHigh > 100 {
		return fmt.Errorf("risk thresholds must satisfy 0 < medium < high <= 100, got %v/%v", t.RiskMedium, t.RiskHigh)
	}
	if t.MaxDeviation <= 0 {
		return fmt.Errorf("max deviation must be positive, got %v", t.MaxDeviation)
	}
	return nil
}

// Weights of each sub-score in the combined score. Liquidity, volume and
// collateral are inverted (100-score) before weighting.
type Weights struct {
	PriceDeviation float64
	Liquidity      float64
	Volatility     float64
	Volume         float64
	Collateral     float64
}

func DefaultWeights() Weights {
	return Weights{PriceDeviation: 0.40, Liquidity: 0.25, Volatility: 0.20, Volume: 0.10, Collateral: 0.05}
}

type Option func(*Model)

func WithWeights(w Weights) Option { return func(m *Model) { m.weights = w } }

func WithLiquidityScorer(s domsvc.LiquidityScorer) Option {
	return func(m *Model) {
		if s != nil {
			m.liquidity = s
		}
	}
}

func WithVolumeScorer(s domsvc.VolumeScorer) Option {
	return func(m *Model) {
		if s != nil {
			m.volume = s
		}
	}
}

func WithCollateralScorer(s domsvc.CollateralScorer) Option {
	return func(m *Model) {
		if s != nil {
			m.collateral = s
		}
	}
}

// WithVolatilityScale sets the points per percent of coefficient of variation.
func WithVolatilityScale(scale float64) Option {
	return func(m *Model) {
		if scale > 0 {
			m.volatilityScale = scale
		}
	}
}

// Model is immutable after construction and safe for concurrent use.
type Model struct {
	thresholds      Thresholds
	weights         Weights
	liquidity       domsvc.LiquidityScorer
	volume          domsvc.VolumeScorer
	collateral      domsvc.CollateralScorer
	volatilityScale float64
}

func NewModel(th Thresholds, opts ...Option) (*Model, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		thresholds:      th,
		weights:         DefaultWeights(),
		liquidity:       TieredLiquidityScorer{Tiers: DefaultLiquidityTiers, Floor: 10},
		volume:          TieredVolumeScorer{Tiers: DefaultVolumeTiers, Floor: 5},
		collateral:      StaticCollateralScorer{Value: defaultCollateralScore},
		volatilityScale: defaultVolatilityScale,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Model) Thresholds() Thresholds { return m.thresholds }

// LiquidityFromObservations sums the optional liquidity and volume figures.
func LiquidityFromObservations(obs []models.PriceObservation) models.LiquidityInfo {
	liq := make([]*float64, 0, len(obs))
	vol := make([]*float64, 0, len(obs))
	for _, o := range obs {
		liq = append(liq, o.Liquidity)
		vol = append(vol, o.Volume24h)
	}

	info := models.LiquidityInfo{SourceCount: len(obs)}
	if sum, ok := features.SumOptional(liq); ok {
		info.TotalUSD = &sum
	}
	if sum, ok := features.SumOptional(vol); ok {
		info.Volume24h = &sum
	}
	return info
}

// ScoreMetrics derives the sub-scores. Collateral is set only for crypto-backed assets.
func (m *Model) ScoreMetrics(agg models.AggregatedPrice, liquidity models.LiquidityInfo, asset models.AssetMetadata) models.RiskMetrics {
	metrics := models.RiskMetrics{
		PriceDeviation: clamp(agg.Deviation / m.thresholds.MaxDeviation * 100),
		Liquidity:      clamp(m.liquidity.ScoreLiquidity(liquidity)),
		Volatility:     clamp(features.CoefficientOfVariation(features.Prices(agg.Sources)) * 100 * m.volatilityScale),
		Volume:         clamp(m.volume.ScoreVolume(liquidity)),
	}
	if asset.IsCollateralized() {
		c := clamp(m.collateral.ScoreCollateral(asset, agg))
		metrics.Collateral = &c
	}
	return metrics
}

// Combine returns the weighted overall score in [0,100]. When the collateral
// sub-score is absent the remaining weights are renormalized to sum to one.
func (m *Model) Combine(metrics models.RiskMetrics) int {
	w := m.weights
	sum := w.PriceDeviation*clamp(metrics.PriceDeviation) +
		w.Liquidity*(100-clamp(metrics.Liquidity)) +
		w.Volatility*clamp(metrics.Volatility) +
		w.Volume*(100-clamp(metrics.Volume))
	total := w.PriceDeviation + w.Liquidity + w.Volatility + w.Volume

	if metrics.Collateral != nil {
		sum += w.Collateral * (100 - clamp(*metrics.Collateral))
		total += w.Collateral
	}
	if total <= 0 {
		return 0
	}
	return int(clamp(math.Round(sum / total)))
}

func (m *Model) ClassifyLevel(score int) models.RiskLevel {
	s := float64(score)
	switch {
	case s >= m.thresholds.RiskHigh:
		return models.RiskLevelCritical
	case s >= m.thresholds.RiskMedium:
		return models.RiskLevelHigh
	case s >= lowMediumBreakpoint:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// ClassifyStatus is a pure function of deviation and score, without hysteresis.
func (m *Model) ClassifyStatus(deviation float64, score int) models.HealthStatus {
	s := float64(score)
	switch {
	case deviation >= m.thresholds.DepegCritical || score >= depeggedScore:
		return models.StatusDepegged
	case deviation >= m.thresholds.DepegWarning || s >= m.thresholds.RiskHigh:
		return models.StatusCritical
	case s >= m.thresholds.RiskMedium:
		return models.StatusWarning
	default:
		return models.StatusHealthy
	}
}

// Assessment is the output of a full evaluation.
type Assessment struct {
	Metrics   models.RiskMetrics
	Liquidity models.LiquidityInfo
	Score     int
	Level     models.RiskLevel
	Status    models.HealthStatus
	Alerts    []string
}

// Evaluate runs score, level, status and alerts in order.
func (m *Model) Evaluate(asset models.AssetMetadata, agg models.AggregatedPrice) (Assessment, error) {
	if !isFinite(agg.Price) || !isFinite(agg.Deviation) {
		return Assessment{}, fmt.Errorf("aggregate for %s is not finite: price=%v deviation=%v", asset.Symbol, agg.Price, agg.Deviation)
	}
	liquidity := LiquidityFromObservations(agg.Sources)
	metrics := m.ScoreMetrics(agg, liquidity, asset)
	score := m.Combine(metrics)

	return Assessment{
		Metrics:   metrics,
		Liquidity: liquidity,
		Score:     score,
		Level:     m.ClassifyLevel(score),
		Status:    m.ClassifyStatus(agg.Deviation, score),
		Alerts:    m.Alerts(asset.Symbol, agg.Deviation, score, metrics),
	}, nil
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
