package nn_test

import (
	"testing"

	"github.com/revnet-ml/revnet/internal/backend/cpu"
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

func TestDenseKnownValues(t *testing.T) {
	backend := cpu.New()
	layer := nn.NewDense(2, 2, rng.New(1), backend)

	copy(layer.Weight().Tensor().Data(), []float32{1, 2, 3, 4})
	copy(layer.Bias().Tensor().Data(), []float32{10, 20})

	x := fromSlice(t, []float32{1, 2}, tensor.Shape{1, 2})
	out := layer.Forward(x, nil)

	// y = x @ W.T + b with W rows as output neurons.
	checkClose(t, "dense", out.Data(), []float32{15, 31}, 1e-5)
}

func TestDenseLeadingDimensions(t *testing.T) {
	backend := cpu.New()
	layer := nn.NewDense(4, 5, rng.New(2), backend)

	x := randTensor(3, tensor.Shape{2, 3, 4})
	out := layer.Forward(x, nil)
	if !out.Shape().Equal(tensor.Shape{2, 3, 5}) {
		t.Fatalf("shape = %v, want [2 3 5]", out.Shape())
	}

	// Each position is an independent row: flattening must not mix them.
	flatIn := x.Reshape(6, 4)
	flatOut := layer.Forward(flatIn, nil)
	checkClose(t, "flattened", flatOut.Data(), out.Data(), 1e-6)
}

func TestDenseRejectsWrongWidth(t *testing.T) {
	backend := cpu.New()
	layer := nn.NewDense(4, 5, rng.New(2), backend)

	defer func() {
		if recover() == nil {
			t.Error("mismatched input width should panic")
		}
	}()
	layer.Forward(randTensor(4, tensor.Shape{2, 3}), nil)
}

func TestLayerNormNormalizes(t *testing.T) {
	backend := cpu.New()
	layer := nn.NewLayerNorm(8, 1e-6, backend)

	x := randTensor(5, tensor.Shape{3, 8})
	// Shift and scale rows so normalization has work to do.
	for i := range x.Data() {
		x.Data()[i] = x.Data()[i]*3 + 7
	}
	out := layer.Forward(x, nil)

	data := out.Data()
	for row := 0; row < 3; row++ {
		var sum, sumSq float64
		for j := 0; j < 8; j++ {
			v := float64(data[row*8+j])
			sum += v
			sumSq += v * v
		}
		mean := sum / 8
		variance := sumSq/8 - mean*mean
		if mean < -1e-4 || mean > 1e-4 {
			t.Errorf("row %d mean = %v, want 0", row, mean)
		}
		if variance < 0.99 || variance > 1.01 {
			t.Errorf("row %d variance = %v, want 1", row, variance)
		}
	}
}

func TestLayerNormGammaBeta(t *testing.T) {
	backend := cpu.New()
	plain := nn.NewLayerNorm(4, 1e-6, backend)
	scaled := nn.NewLayerNorm(4, 1e-6, backend)
	for i := range scaled.Gamma.Tensor().Data() {
		scaled.Gamma.Tensor().Data()[i] = 2
		scaled.Beta.Tensor().Data()[i] = 3
	}

	x := randTensor(6, tensor.Shape{2, 4})
	base := plain.Forward(x.Clone(), nil)
	out := scaled.Forward(x.Clone(), nil)

	want := make([]float32, len(base.Data()))
	for i, v := range base.Data() {
		want[i] = 2*v + 3
	}
	checkClose(t, "gamma/beta", out.Data(), want, 1e-5)
}

func TestLayerNormParameters(t *testing.T) {
	layer := nn.NewLayerNorm(4, 1e-6, cpu.New())
	params := layer.Parameters()
	if len(params) != 2 {
		t.Fatalf("got %d parameters, want 2", len(params))
	}
	if params[0].Name() != "gamma" || params[1].Name() != "beta" {
		t.Errorf("parameter names = %q, %q", params[0].Name(), params[1].Name())
	}
}
