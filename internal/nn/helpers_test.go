package nn_test

import (
	"math"
	"testing"

	"github.com/revnet-ml/revnet/internal/backend/cpu"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

type cpuB = *cpu.CPUBackend

func fromSlice(t *testing.T, data []float32, shape tensor.Shape) *tensor.Tensor[float32, cpuB] {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, cpu.New())
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	return x
}

func randTensor(seed uint64, shape tensor.Shape) *tensor.Tensor[float32, cpuB] {
	x := tensor.Zeros[float32](shape, cpu.New())
	rng.New(seed).FillNormal(x.Data())
	return x
}

func checkClose(t *testing.T, name string, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Errorf("%s[%d]: got %v, want %v", name, i, got[i], want[i])
		}
	}
}

// numericalGradient estimates the gradient of f with respect to x via
// central differences. f must read x afresh on every call.
func numericalGradient(f func() float32, x []float32, eps float32) []float32 {
	grad := make([]float32, len(x))
	for i := range x {
		orig := x[i]
		x[i] = orig + eps
		plus := f()
		x[i] = orig - eps
		minus := f()
		x[i] = orig
		grad[i] = (plus - minus) / (2 * eps)
	}
	return grad
}

func checkGradients(t *testing.T, name string, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: gradient length %d, want %d", name, len(got), len(want))
	}
	for i := range want {
		diff := math.Abs(float64(got[i] - want[i]))
		scale := math.Max(1, math.Abs(float64(want[i])))
		if diff/scale > tol {
			t.Errorf("%s[%d]: got %v, want %v", name, i, got[i], want[i])
		}
	}
}
