package service

import "PegWatch/internal/domain/models"

// LiquidityScorer maps liquidity context onto a 0-100 score (higher is better).
type LiquidityScorer interface {
	ScoreLiquidity(info models.LiquidityInfo) float64
}

// CollateralScorer maps an asset onto a 0-100 collateral health score.
// The risk model only consults it for crypto-backed assets.
type CollateralScorer interface {
	ScoreCollateral(asset models.AssetMetadata, agg models.AggregatedPrice) float64
}

// VolumeScorer maps summed 24h volume onto a 0-100 score (higher is better).
type VolumeScorer interface {
	ScoreVolume(info models.LiquidityInfo) float64
}
