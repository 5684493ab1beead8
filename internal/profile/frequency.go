package profile

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FrequencyEstimator scores how far a customer's transaction frequency
// deviates from their own baseline, in [0, 1]. It feeds the risk-score
// formula alongside the amount deviation.
type FrequencyEstimator interface {
	Deviation(p *domain.CustomerProfile) float64
}

// ConstantFrequency reproduces the reference behavior: the frequency
// signal is a fixed value regardless of history.
type ConstantFrequency struct {
	Value float64
}

// Deviation returns the fixed value.
func (c ConstantFrequency) Deviation(*domain.CustomerProfile) float64 {
	return c.Value
}

// IntervalVariance derives the deviation from the coefficient of
// variation of the customer's recent inter-arrival gaps. Customers with
// too little history fall back to Fallback.
type IntervalVariance struct {
	// MinSamples is the minimum number of gaps required; below it the
	// estimator returns Fallback. Values below 2 are treated as 2.
	MinSamples int

	Fallback float64
}

// Deviation computes stddev(gaps)/mean(gaps), clamped to [0, 1].
func (e IntervalVariance) Deviation(p *domain.CustomerProfile) float64 {
	min := e.MinSamples
	if min < 2 {
		min = 2
	}

	gaps := p.RecentGaps
	if len(gaps) < min {
		return e.Fallback
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean <= 0 {
		return e.Fallback
	}

	var ss float64
	for _, g := range gaps {
		d := g - mean
		ss += d * d
	}
	cv := math.Sqrt(ss/float64(len(gaps))) / mean

	if cv > 1 {
		return 1
	}
	return cv
}
