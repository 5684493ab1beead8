package drift

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func gaussianData(rng *rand.Rand, n, d int, shift float64) *mat.Dense {
	data := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			data.Set(i, j, rng.NormFloat64()+shift)
		}
	}
	return data
}

func TestFitMCD(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := gaussianData(rng, 200, 3, 0)

	fit, err := fitMCD(data)
	if err != nil {
		t.Fatalf("fitMCD failed: %v", err)
	}

	// The robust mean of a standard gaussian sample is near zero.
	for j, m := range fit.mean {
		if m < -0.3 || m > 0.3 {
			t.Errorf("mean[%d] = %v, expected near 0", j, m)
		}
	}
}

func TestFitMCDConstantData(t *testing.T) {
	data := mat.NewDense(50, 2, nil)
	for i := 0; i < 50; i++ {
		data.Set(i, 0, 7)
		data.Set(i, 1, 7)
	}

	if _, err := fitMCD(data); err == nil {
		t.Error("expected error for constant data")
	}
}

func TestFitMCDTooFewRows(t *testing.T) {
	data := mat.NewDense(3, 5, make([]float64, 15))
	if _, err := fitMCD(data); err == nil {
		t.Error("expected error when rows < features+1")
	}
}

func TestFitMCDIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := gaussianData(rng, 100, 2, 0)

	first, err := fitMCD(data)
	if err != nil {
		t.Fatalf("fitMCD failed: %v", err)
	}
	second, err := fitMCD(data)
	if err != nil {
		t.Fatalf("fitMCD failed: %v", err)
	}

	for j := range first.mean {
		if first.mean[j] != second.mean[j] {
			t.Errorf("mean[%d] differs between runs: %v vs %v", j, first.mean[j], second.mean[j])
		}
	}
}

func TestFitMCDResistsOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	n, d := 200, 2
	data := gaussianData(rng, n, d, 0)

	// Contaminate a quarter of the rows far away. MCD should still
	// locate the main mass near zero.
	for i := 0; i < n/4; i++ {
		for j := 0; j < d; j++ {
			data.Set(i, j, 50+rng.NormFloat64())
		}
	}

	fit, err := fitMCD(data)
	if err != nil {
		t.Fatalf("fitMCD failed: %v", err)
	}

	for j, m := range fit.mean {
		if m < -1 || m > 1 {
			t.Errorf("mean[%d] = %v dragged by outliers", j, m)
		}
	}
}

func TestSquaredDistancesSeparateShiftedData(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ref := gaussianData(rng, 200, 2, 0)
	shifted := gaussianData(rng, 200, 2, 10)

	fit, err := fitMCD(ref)
	if err != nil {
		t.Fatalf("fitMCD failed: %v", err)
	}

	selfMean := mean(fit.squaredDistances(ref))
	shiftedMean := mean(fit.squaredDistances(shifted))

	if shiftedMean <= selfMean*10 {
		t.Errorf("shifted distances %v not clearly above self distances %v", shiftedMean, selfMean)
	}
}

func TestSmallestIndices(t *testing.T) {
	values := []float64{5, 1, 4, 1, 3}

	got := smallestIndices(values, 3)

	want := []int{1, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}
