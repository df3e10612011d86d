package risk

import (
	"fmt"
	"strings"

	"PegWatch/internal/domain/models"

	"github.com/shopspring/decimal"
)

const (
	AlertPrefixCritical = "CRITICAL: "
	AlertPrefixWarning  = "WARNING: "
)

// Alerts builds the ordered alert list. It does not depend on the status.
func (m *Model) Alerts(symbol string, deviation float64, score int, metrics models.RiskMetrics) []string {
	alerts := make([]string, 0, 4)

	switch {
	case deviation >= m.thresholds.DepegCritical:
		alerts = append(alerts, fmt.Sprintf("%s%s deviates %s%% from peg", AlertPrefixCritical, symbol, pct(deviation)))
	case deviation >= m.thresholds.DepegWarning:
		alerts = append(alerts, fmt.Sprintf("%s%s deviates %s%% from peg", AlertPrefixWarning, symbol, pct(deviation)))
	}

	if metrics.PriceDeviation > subScoreAlertHigh {
		alerts = append(alerts, fmt.Sprintf("High price deviation risk (score %s)", pts(metrics.PriceDeviation)))
	}
	if metrics.Liquidity < subScoreAlertLow {
		alerts = append(alerts, fmt.Sprintf("Low liquidity (score %s)", pts(metrics.Liquidity)))
	}
	if metrics.Volatility > subScoreAlertHigh {
		alerts = append(alerts, fmt.Sprintf("High price volatility (score %s)", pts(metrics.Volatility)))
	}
	if metrics.Volume < subScoreAlertLow {
		alerts = append(alerts, fmt.Sprintf("Low trading volume (score %s)", pts(metrics.Volume)))
	}
	if metrics.Collateral != nil && *metrics.Collateral < collateralAlertLow {
		alerts = append(alerts, fmt.Sprintf("Weak collateralization (score %s)", pts(*metrics.Collateral)))
	}

	if len(alerts) == 0 && float64(score) >= m.thresholds.RiskHigh {
		alerts = append(alerts, fmt.Sprintf("Elevated risk: %s overall score %d", symbol, score))
	}
	return alerts
}

// IsCritical reports whether an alert carries critical severity.
func IsCritical(alert string) bool {
	return strings.HasPrefix(alert, AlertPrefixCritical)
}

func pct(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func pts(v float64) string {
	return decimal.NewFromFloat(v).Round(1).String()
}
