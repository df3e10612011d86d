package risk

import (
	"PegWatch/internal/domain/models"
	domsvc "PegWatch/internal/domain/service"
)

// NeutralScore is used whenever a signal is absent. It is never a penalty.
const NeutralScore = 50.0

// Tier maps every value at or above Min onto Score.
type Tier struct {
	Min   float64
	Score float64
}

// Tiers must be sorted by Min, descending.
type Tiers []Tier

// Score returns the score of the first tier whose Min is met, or floor.
func (t Tiers) Score(v, floor float64) float64 {
	for _, tier := range t {
		if v >= tier.Min {
			return tier.Score
		}
	}
	return floor
}

var DefaultLiquidityTiers = Tiers{
	{Min: 1_000_000_000, Score: 100},
	{Min: 500_000_000, Score: 90},
	{Min: 100_000_000, Score: 75},
	{Min: 10_000_000, Score: 55},
	{Min: 1_000_000, Score: 35},
	{Min: 100_000, Score: 20},
}

var DefaultVolumeTiers = Tiers{
	{Min: 10_000_000_000, Score: 100},
	{Min: 1_000_000_000, Score: 85},
	{Min: 100_000_000, Score: 70},
	{Min: 10_000_000, Score: 50},
	{Min: 1_000_000, Score: 30},
	{Min: 100_000, Score: 15},
}

// TieredLiquidityScorer scores total USD liquidity with a step function.
type TieredLiquidityScorer struct {
	Tiers Tiers
	Floor float64
}

func (s TieredLiquidityScorer) ScoreLiquidity(info models.LiquidityInfo) float64 {
	if info.TotalUSD == nil {
		return NeutralScore
	}
	return s.Tiers.Score(*info.TotalUSD, s.Floor)
}

// TieredVolumeScorer scores summed 24h volume with a step function.
type TieredVolumeScorer struct {
	Tiers Tiers
	Floor float64
}

func (s TieredVolumeScorer) ScoreVolume(info models.LiquidityInfo) float64 {
	if info.Volume24h == nil {
		return NeutralScore
	}
	return s.Tiers.Score(*info.Volume24h, s.Floor)
}

// StaticCollateralScorer returns a fixed score. It stands in until on-chain
// collateral data is available and can be replaced through WithCollateralScorer.
type StaticCollateralScorer struct {
	Value float64
}

func (s StaticCollateralScorer) ScoreCollateral(models.AssetMetadata, models.AggregatedPrice) float64 {
	return s.Value
}

var (
	_ domsvc.LiquidityScorer  = TieredLiquidityScorer{}
	_ domsvc.VolumeScorer     = TieredVolumeScorer{}
	_ domsvc.CollateralScorer = StaticCollateralScorer{}
)
