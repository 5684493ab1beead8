package drift

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ksPValue returns the asymptotic two-sample Kolmogorov-Smirnov p-value
// for the two samples. Inputs need not be sorted.
func ksPValue(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("%w: empty sample: %d vs %d observations", domain.ErrStatisticalTest, len(a), len(b))
	}

	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)

	d := stat.KolmogorovSmirnov(x, nil, y, nil)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("%w: degenerate KS statistic %v", domain.ErrStatisticalTest, d)
	}

	ne := float64(len(x)) * float64(len(y)) / float64(len(x)+len(y))
	lambda := (math.Sqrt(ne) + 0.12 + 0.11/math.Sqrt(ne)) * d
	return ksProb(lambda), nil
}

// ksProb evaluates the Kolmogorov distribution tail
// Q(lambda) = 2 * sum_{j>=1} (-1)^(j-1) * exp(-2 j^2 lambda^2).
func ksProb(lambda float64) float64 {
	if lambda < 1e-12 {
		return 1
	}

	var sum float64
	sign := 1.0
	prev := math.Inf(1)
	for j := 1; j <= 100; j++ {
		term := 2 * math.Exp(-2*float64(j*j)*lambda*lambda)
		sum += sign * term
		if term < 1e-10 || term < 1e-8*prev {
			break
		}
		prev = term
		sign = -sign
	}

	switch {
	case sum < 0:
		return 0
	case sum > 1:
		return 1
	default:
		return sum
	}
}
