package features

import (
	"math"
	"sort"

	"PegWatch/internal/domain/models"

	"gonum.org/v1/gonum/stat"
)

// Prices extracts the price column of a set of observations.
func Prices(obs []models.PriceObservation) []float64 {
	out := make([]float64, 0, len(obs))
	for _, o := range obs {
		out = append(out, o.Price)
	}
	return out
}

// SortedCopy returns an ascending copy of values, leaving the input untouched.
func SortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// Quartiles returns the empirical first and third quartiles of ascending values.
// The input must be sorted and non-empty.
func Quartiles(sorted []float64) (q1, q3 float64) {
	return stat.Quantile(0.25, stat.Empirical, sorted, nil),
		stat.Quantile(0.75, stat.Empirical, sorted, nil)
}

// WeightedMean returns the weighted arithmetic mean. A nil weights slice means uniform weights.
func WeightedMean(values, weights []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, weights)
}

// CoefficientOfVariation is the population standard deviation divided by the mean.
// Fewer than two values, or a zero mean, yield 0.
func CoefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if mean == 0 || math.IsNaN(std) {
		return 0
	}
	return std / math.Abs(mean)
}

// SumOptional adds the present values and reports whether any were present.
func SumOptional(values []*float64) (float64, bool) {
	var (
		sum   float64
		found bool
	)
	for _, v := range values {
		if v == nil {
			continue
		}
		sum += *v
		found = true
	}
	return sum, found
}
