package aggregation

import (
	"math"
	"time"

	"PegWatch/internal/domain/models"
	"PegWatch/internal/services/features"
)

const (
	// minObservationsForIQR is the smallest set on which quartiles are meaningful.
	minObservationsForIQR = 4
	iqrMultiplier         = 1.5
)

// WeightFunc assigns a weight to a contributing observation.
type WeightFunc func(models.PriceObservation) float64

// UniformWeight gives every observation weight 1.
func UniformWeight(models.PriceObservation) float64 { return 1 }

type Option func(*Aggregator)

// WithWeightFunc overrides the per-observation weighting.
func WithWeightFunc(fn WeightFunc) Option {
	return func(a *Aggregator) {
		if fn != nil {
			a.weight = fn
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// Aggregator reduces raw observations to a consensus price using IQR outlier rejection.
// It holds no mutable state and is safe for concurrent use.
type Aggregator struct {
	weight WeightFunc
	now    func() time.Time
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{weight: UniformWeight, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate computes the consensus price and its deviation from target.
// Empty input yields the target price with zero deviation.
func (a *Aggregator) Aggregate(observations []models.PriceObservation, target float64) models.AggregatedPrice {
	ts := a.now()
	if len(observations) == 0 {
		return models.AggregatedPrice{
			Price:           target,
			Deviation:       0,
			Sources:         []models.PriceObservation{},
			WeightedAverage: target,
			Timestamp:       ts,
		}
	}

	kept, rejected := RejectOutliers(observations)

	prices := features.Prices(kept)
	weights := make([]float64, len(kept))
	for i, o := range kept {
		weights[i] = a.weight(o)
	}
	avg := features.WeightedMean(prices, weights)

	return models.AggregatedPrice{
		Price:           avg,
		Deviation:       Deviation(avg, target),
		Sources:         kept,
		Rejected:        rejected,
		WeightedAverage: avg,
		Timestamp:       ts,
	}
}

// RejectOutliers splits observations into those inside [Q1-1.5*IQR, Q3+1.5*IQR] and the rest.
// Sets smaller than four are returned unchanged. Input order is preserved.
func RejectOutliers(observations []models.PriceObservation) (kept, rejected []models.PriceObservation) {
	if len(observations) < minObservationsForIQR {
		kept = make([]models.PriceObservation, len(observations))
		copy(kept, observations)
		return kept, nil
	}

	sorted := features.SortedCopy(features.Prices(observations))
	q1, q3 := features.Quartiles(sorted)
	iqr := q3 - q1
	lower := q1 - iqrMultiplier*iqr
	upper := q3 + iqrMultiplier*iqr

	kept = make([]models.PriceObservation, 0, len(observations))
	for _, o := range observations {
		if o.Price < lower || o.Price > upper {
			rejected = append(rejected, o)
			continue
		}
		kept = append(kept, o)
	}
	return kept, rejected
}

// Deviation is |price-target|/target*100. A non-positive target yields 0.
func Deviation(price, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return math.Abs(price-target) / target * 100
}
