package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthReportCloneIsDeep(t *testing.T) {
	collateral, total, volume := 50.0, 1e9, 2e8
	r := &HealthReport{
		Symbol:    "DAI",
		Metrics:   RiskMetrics{Collateral: &collateral},
		Liquidity: LiquidityInfo{TotalUSD: &total, Volume24h: &volume, SourceCount: 2},
		Alerts:    []string{"a"},
	}

	c := r.Clone()
	require.Equal(t, r, c)

	c.Alerts[0] = "b"
	*c.Metrics.Collateral = 1
	*c.Liquidity.TotalUSD = 1
	*c.Liquidity.Volume24h = 1

	assert.Equal(t, "a", r.Alerts[0])
	assert.Equal(t, 50.0, *r.Metrics.Collateral)
	assert.Equal(t, 1e9, *r.Liquidity.TotalUSD)
	assert.Equal(t, 2e8, *r.Liquidity.Volume24h)

	var nilReport *HealthReport
	assert.Nil(t, nilReport.Clone())
	assert.Nil(t, (&HealthReport{}).Clone().Alerts)
}
