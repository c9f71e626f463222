package nn_test

import (
	"errors"
	"testing"

	"github.com/revnet-ml/revnet/internal/backend/cpu"
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

func TestSplitMergeHeadsRoundtrip(t *testing.T) {
	x := randTensor(1, tensor.Shape{2, 3, 8})
	split := nn.SplitHeads(x, 4)
	if !split.Shape().Equal(tensor.Shape{8, 3, 2}) {
		t.Fatalf("split shape = %v, want [8 3 2]", split.Shape())
	}
	merged := nn.MergeHeads(split, 4)
	if !merged.Shape().Equal(x.Shape()) {
		t.Fatalf("merged shape = %v, want %v", merged.Shape(), x.Shape())
	}
	checkClose(t, "roundtrip", merged.Data(), x.Data(), 0)
}

func TestSplitHeadsLayout(t *testing.T) {
	x := fromSlice(t, []float32{0, 1, 2, 3}, tensor.Shape{1, 1, 4})
	split := nn.SplitHeads(x, 2)
	// Head 0 owns features 0..1, head 1 owns features 2..3.
	checkClose(t, "layout", split.Data(), []float32{0, 1, 2, 3}, 0)
	if !split.Shape().Equal(tensor.Shape{2, 1, 2}) {
		t.Fatalf("shape = %v, want [2 1 2]", split.Shape())
	}
}

func TestSplitHeadsRejectsIndivisible(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("d_model not divisible by heads should panic")
		}
	}()
	nn.SplitHeads(randTensor(1, tensor.Shape{1, 2, 6}), 4)
}

func TestQKVProjectionShapes(t *testing.T) {
	backend := cpu.New()
	proj, err := nn.NewQKVProjection(8, 2, false, rng.New(1), backend)
	if err != nil {
		t.Fatalf("NewQKVProjection: %v", err)
	}

	x := randTensor(2, tensor.Shape{3, 5, 8})
	q, k, v := proj.Forward(x)
	want := tensor.Shape{6, 5, 4}
	for name, got := range map[string]tensor.Shape{"q": q.Shape(), "k": k.Shape(), "v": v.Shape()} {
		if !got.Equal(want) {
			t.Errorf("%s shape = %v, want %v", name, got, want)
		}
	}
	if len(proj.Parameters()) != 8 {
		t.Errorf("got %d parameters, want 8", len(proj.Parameters()))
	}
}

func TestQKVProjectionSharedQK(t *testing.T) {
	backend := cpu.New()
	proj, err := nn.NewQKVProjection(8, 2, true, rng.New(1), backend)
	if err != nil {
		t.Fatalf("NewQKVProjection: %v", err)
	}

	x := randTensor(2, tensor.Shape{1, 4, 8})
	q, k, _ := proj.Forward(x)
	checkClose(t, "q == k", k.Data(), q.Data(), 0)

	// The shared projection is reported once.
	if len(proj.Parameters()) != 6 {
		t.Errorf("got %d parameters, want 6", len(proj.Parameters()))
	}
}

func TestQKVProjectionBadHeads(t *testing.T) {
	backend := cpu.New()
	for _, heads := range []int{0, 3} {
		_, err := nn.NewQKVProjection(8, heads, false, rng.New(1), backend)
		var cfgErr *nn.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("heads=%d: got %v, want ConfigurationError", heads, err)
		}
	}
}

func TestDotProductCausality(t *testing.T) {
	backend := cpu.New()
	att, err := nn.NewDotProductCausalAttention(0, false, backend)
	if err != nil {
		t.Fatalf("NewDotProductCausalAttention: %v", err)
	}

	q := randTensor(1, tensor.Shape{2, 5, 3})
	k := randTensor(2, tensor.Shape{2, 5, 3})
	v := randTensor(3, tensor.Shape{2, 5, 3})
	before := att.Forward(q, k, v, nil)

	// Perturb the last position in every stream.
	for _, x := range []*tensor.Tensor[float32, cpuB]{q, k, v} {
		for b := 0; b < 2; b++ {
			for f := 0; f < 3; f++ {
				x.Set(x.At(b, 4, f)+10, b, 4, f)
			}
		}
	}
	after := att.Forward(q, k, v, nil)

	for b := 0; b < 2; b++ {
		for s := 0; s < 4; s++ {
			for f := 0; f < 3; f++ {
				if before.At(b, s, f) != after.At(b, s, f) {
					t.Fatalf("position %d saw a change at position 4", s)
				}
			}
		}
	}
}

func TestDotProductUniformWeights(t *testing.T) {
	backend := cpu.New()
	att, err := nn.NewDotProductCausalAttention(0, false, backend)
	if err != nil {
		t.Fatalf("NewDotProductCausalAttention: %v", err)
	}

	// Zero queries and keys give uniform weights over the causal window, so
	// row p of the output is the running mean of v.
	q := tensor.Zeros[float32](tensor.Shape{1, 3, 2}, backend)
	k := tensor.Zeros[float32](tensor.Shape{1, 3, 2}, backend)
	v := fromSlice(t, []float32{1, 10, 2, 20, 3, 30}, tensor.Shape{1, 3, 2})

	out := att.Forward(q, k, v, nil)
	want := []float32{1, 10, 1.5, 15, 2, 20}
	checkClose(t, "running mean", out.Data(), want, 1e-5)
}

func TestDotProductForwardAndBackwardMatchesForward(t *testing.T) {
	backend := cpu.New()
	att, err := nn.NewDotProductCausalAttention(0, false, backend)
	if err != nil {
		t.Fatalf("NewDotProductCausalAttention: %v", err)
	}

	q := randTensor(4, tensor.Shape{2, 4, 3})
	k := randTensor(5, tensor.Shape{2, 4, 3})
	v := randTensor(6, tensor.Shape{2, 4, 3})
	ct := randTensor(7, tensor.Shape{2, 4, 3})

	want := att.Forward(q, k, v, nil)
	got, _, _, _ := att.ForwardAndBackward(q, k, v, ct, nil)
	checkClose(t, "recomputed output", got.Data(), want.Data(), 1e-6)
}

func TestDotProductDropoutReplaysAcrossPasses(t *testing.T) {
	backend := cpu.New()
	att, err := nn.NewDotProductCausalAttention(0.3, true, backend)
	if err != nil {
		t.Fatalf("NewDotProductCausalAttention: %v", err)
	}

	q := randTensor(8, tensor.Shape{2, 4, 3})
	k := randTensor(9, tensor.Shape{2, 4, 3})
	v := randTensor(10, tensor.Shape{2, 4, 3})
	ct := randTensor(11, tensor.Shape{2, 4, 3})

	want := att.Forward(q, k, v, rng.New(21))
	got, _, _, _ := att.ForwardAndBackward(q, k, v, ct, rng.New(21))
	checkClose(t, "same key same mask", got.Data(), want.Data(), 1e-6)
}

func TestDotProductGradients(t *testing.T) {
	backend := cpu.New()
	att, err := nn.NewDotProductCausalAttention(0, false, backend)
	if err != nil {
		t.Fatalf("NewDotProductCausalAttention: %v", err)
	}

	shape := tensor.Shape{2, 4, 3}
	qData := make([]float32, shape.NumElements())
	kData := make([]float32, shape.NumElements())
	vData := make([]float32, shape.NumElements())
	ctData := make([]float32, shape.NumElements())
	rng.New(31).FillNormal(qData)
	rng.New(32).FillNormal(kData)
	rng.New(33).FillNormal(vData)
	rng.New(34).FillNormal(ctData)

	q := fromSlice(t, qData, shape)
	k := fromSlice(t, kData, shape)
	v := fromSlice(t, vData, shape)
	ct := fromSlice(t, ctData, shape)
	_, dq, dk, dv := att.ForwardAndBackward(q, k, v, ct, nil)

	// loss = sum(attention(q, k, v) * ct)
	loss := func() float32 {
		qt := fromSlice(t, qData, shape)
		kt := fromSlice(t, kData, shape)
		vt := fromSlice(t, vData, shape)
		ctt := fromSlice(t, ctData, shape)
		return att.Forward(qt, kt, vt, nil).Mul(ctt).Sum().Item()
	}

	checkGradients(t, "dq", dq.Data(), numericalGradient(loss, qData, 1e-2), 2e-2)
	checkGradients(t, "dk", dk.Data(), numericalGradient(loss, kData, 1e-2), 2e-2)
	checkGradients(t, "dv", dv.Data(), numericalGradient(loss, vData, 1e-2), 2e-2)
}
