package drift

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxCSteps bounds the MCD concentration iterations. The determinant
// sequence is non-increasing, so convergence is typically much faster.
const maxCSteps = 20

// robustCovariance is a minimum-covariance-determinant fit of a sample:
// a robust location plus the Cholesky factor of the covariance of the
// most concentrated half of the data.
type robustCovariance struct {
	mean []float64
	chol mat.Cholesky
}

// fitMCD runs deterministic concentration steps starting from the h
// points nearest the coordinate-wise median, where h = (n + d + 1) / 2.
// Fails when the subset covariance is not positive definite (for
// example, when the sample is constant).
func fitMCD(data *mat.Dense) (*robustCovariance, error) {
	n, d := data.Dims()
	if n < d+1 {
		return nil, fmt.Errorf("%w: need at least %d observations for %d features, got %d", domain.ErrStatisticalTest, d+1, d, n)
	}

	h := (n + d + 1) / 2
	if h > n {
		h = n
	}

	idx := nearestToMedian(data, h)

	var fit *robustCovariance
	prevDet := math.Inf(1)
	for step := 0; step < maxCSteps; step++ {
		candidate, err := fitSubset(data, idx)
		if err != nil {
			if fit == nil {
				return nil, err
			}
			break
		}
		fit = candidate

		det := fit.chol.LogDet()
		if prevDet-det < 1e-9 {
			break
		}
		prevDet = det

		idx = smallestIndices(fit.squaredDistances(data), h)
	}

	return fit, nil
}

// squaredDistances returns the squared Mahalanobis distance of every
// row of data against the fit.
func (rc *robustCovariance) squaredDistances(data *mat.Dense) []float64 {
	n, d := data.Dims()
	meanVec := mat.NewVecDense(d, rc.mean)
	row := mat.NewVecDense(d, nil)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			row.SetVec(j, data.At(i, j))
		}
		dist := stat.Mahalanobis(row, meanVec, &rc.chol)
		out[i] = dist * dist
	}
	return out
}

// fitSubset computes mean and covariance Cholesky factor over the given
// row subset.
func fitSubset(data *mat.Dense, idx []int) (*robustCovariance, error) {
	_, d := data.Dims()
	subset := mat.NewDense(len(idx), d, nil)
	for si, ri := range idx {
		for j := 0; j < d; j++ {
			subset.Set(si, j, data.At(ri, j))
		}
	}

	mean := make([]float64, d)
	for j := 0; j < d; j++ {
		mean[j] = stat.Mean(mat.Col(nil, j, subset), nil)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, subset, nil)

	fit := &robustCovariance{mean: mean}
	if ok := fit.chol.Factorize(&cov); !ok {
		return nil, fmt.Errorf("%w: subset covariance is not positive definite", domain.ErrStatisticalTest)
	}
	return fit, nil
}

// nearestToMedian returns the indices of the h rows closest to the
// coordinate-wise median in Euclidean distance.
func nearestToMedian(data *mat.Dense, h int) []int {
	n, d := data.Dims()

	med := make([]float64, d)
	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, data)
		sort.Float64s(col)
		med[j] = stat.Quantile(0.5, stat.Empirical, col, nil)
	}

	dist := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < d; j++ {
			diff := data.At(i, j) - med[j]
			sum += diff * diff
		}
		dist[i] = sum
	}

	return smallestIndices(dist, h)
}

// smallestIndices returns the indices of the h smallest values,
// preserving original order among ties for determinism.
func smallestIndices(values []float64, h int) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] < values[idx[b]]
	})
	if h > len(idx) {
		h = len(idx)
	}
	picked := append([]int(nil), idx[:h]...)
	sort.Ints(picked)
	return picked
}
