package reversible_test

import (
	"math"
	"testing"

	"github.com/revnet-ml/revnet/internal/autodiff"
	"github.com/revnet-ml/revnet/internal/backend/cpu"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

type adB = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newBackend() adB {
	return autodiff.New(cpu.New())
}

func randTensor(seed uint64, shape tensor.Shape, b adB) *tensor.Tensor[float32, adB] {
	x := tensor.Zeros[float32](shape, b)
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
