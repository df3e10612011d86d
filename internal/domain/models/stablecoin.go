package models

import "time"

type AssetKind string

const (
	AssetKindFiatBacked      AssetKind = "fiat-backed"
	AssetKindCryptoBacked    AssetKind = "crypto-backed"
	AssetKindAlgorithmic     AssetKind = "algorithmic"
	AssetKindCommodityBacked AssetKind = "commodity-backed"
)

// AssetMetadata describes a registered pegged asset.
type AssetMetadata struct {
	Symbol       string            `yaml:"symbol" json:"symbol" validate:"required"`
	Name         string            `yaml:"name" json:"name"`
	Kind         AssetKind         `yaml:"kind" json:"kind" validate:"oneof=fiat-backed crypto-backed algorithmic commodity-backed"`
	PegCurrency  string            `yaml:"peg_currency" json:"peg_currency" validate:"required"`
	TargetPrice  float64           `yaml:"target_price" json:"target_price" validate:"gt=0"`
	DefaultChain string            `yaml:"default_chain" json:"default_chain,omitempty"`
	Chains       map[string]string `yaml:"chains" json:"chains,omitempty"`
	CoingeckoID  string            `yaml:"coingecko_id" json:"coingecko_id,omitempty"`
}

// IsCollateralized reports whether the collateral sub-score applies.
func (a AssetMetadata) IsCollateralized() bool {
	return a.Kind == AssetKindCryptoBacked
}

// PriceObservation is one source's reading. Liquidity and Volume24h are optional.
type PriceObservation struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Liquidity *float64  `json:"liquidity,omitempty"`
	Volume24h *float64  `json:"volume_24h,omitempty"`
}

type AggregatedPrice struct {
	Price           float64            `json:"price"`
	Deviation       float64            `json:"deviation"`
	Sources         []PriceObservation `json:"sources"`
	Rejected        []PriceObservation `json:"rejected,omitempty"`
	WeightedAverage float64            `json:"weighted_average"`
	Timestamp       time.Time          `json:"timestamp"`
}

// RiskMetrics holds 0-100 sub-scores. Collateral is nil unless the asset is crypto-backed.
type RiskMetrics struct {
	PriceDeviation float64  `json:"price_deviation"`
	Liquidity      float64  `json:"liquidity"`
	Volatility     float64  `json:"volatility"`
	Volume         float64  `json:"volume"`
	Collateral     *float64 `json:"collateral,omitempty"`
}

type LiquidityInfo struct {
	TotalUSD    *float64 `json:"total_usd,omitempty"`
	Volume24h   *float64 `json:"volume_24h,omitempty"`
	SourceCount int      `json:"source_count"`
}

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
	StatusDepegged HealthStatus = "depegged"
)

// HealthReport is immutable once built; a newer report replaces it in the cache.
type HealthReport struct {
	Symbol    string        `json:"symbol"`
	Chain     string        `json:"chain"`
	Timestamp time.Time     `json:"timestamp"`
	Price     float64       `json:"price"`
	Deviation float64       `json:"deviation"`
	RiskScore int           `json:"risk_score"`
	RiskLevel RiskLevel     `json:"risk_level"`
	Status    HealthStatus  `json:"status"`
	Metrics   RiskMetrics   `json:"metrics"`
	Liquidity LiquidityInfo `json:"liquidity"`
	Alerts    []string      `json:"alerts"`
}

// Clone returns a copy that shares no slices or pointers with r.
func (r *HealthReport) Clone() *HealthReport {
	if r == nil {
		return nil
	}
	out := *r
	out.Metrics.Collateral = cloneFloat(r.Metrics.Collateral)
	out.Liquidity.TotalUSD = cloneFloat(r.Liquidity.TotalUSD)
	out.Liquidity.Volume24h = cloneFloat(r.Liquidity.Volume24h)
	if r.Alerts != nil {
		out.Alerts = append(make([]string, 0, len(r.Alerts)), r.Alerts...)
	}
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// MonitorInfo describes an active monitoring registration.
type MonitorInfo struct {
	Symbol    string        `json:"symbol"`
	Chain     string        `json:"chain"`
	Interval  time.Duration `json:"interval_ns"`
	StartedAt time.Time     `json:"started_at"`
}
