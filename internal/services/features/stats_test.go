package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuartiles(t *testing.T) {
	sorted := []float64{0.99, 1.00, 1.00, 1.00, 1.01, 5.0}
	q1, q3 := Quartiles(sorted)
	assert.Equal(t, 1.00, q1)
	assert.Equal(t, 1.01, q3)
}

func TestSortedCopyDoesNotMutate(t *testing.T) {
	in := []float64{3, 1, 2}
	out := SortedCopy(in)
	assert.Equal(t, []float64{1, 2, 3}, out)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestCoefficientOfVariation(t *testing.T) {
	assert.Zero(t, CoefficientOfVariation(nil))
	assert.Zero(t, CoefficientOfVariation([]float64{1.0}))
	assert.Zero(t, CoefficientOfVariation([]float64{1, 1, 1}))

	cv := CoefficientOfVariation([]float64{0.99, 1.00, 1.01})
	assert.InDelta(t, 0.008165, cv, 1e-5)
}

func TestWeightedMean(t *testing.T) {
	assert.Zero(t, WeightedMean(nil, nil))
	assert.InDelta(t, 2.0, WeightedMean([]float64{1, 2, 3}, nil), 1e-12)
	assert.InDelta(t, 2.5, WeightedMean([]float64{1, 3}, []float64{1, 3}), 1e-12)
}

func TestSumOptional(t *testing.T) {
	a, b := 10.0, 5.0
	sum, ok := SumOptional([]*float64{&a, nil, &b})
	require.True(t, ok)
	assert.Equal(t, 15.0, sum)

	_, ok = SumOptional([]*float64{nil, nil})
	assert.False(t, ok)
}
