package reversible_test

import (
	"testing"

	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/reversible"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

func newAttentionStep(t *testing.T, backend adB, shareQK bool, bins int, rate float32, seed uint64) *reversible.AttentionHalfResidual[adB] {
	t.Helper()
	keys := rng.New(seed).Split(2)
	pre, err := nn.NewQKVProjection(8, 2, shareQK, keys[0], backend)
	if err != nil {
		t.Fatalf("NewQKVProjection: %v", err)
	}

	var att nn.CausalAttention[adB]
	if bins > 0 {
		att, err = nn.NewTimeBinCausalAttention(bins, rate, rate > 0, backend)
	} else {
		att, err = nn.NewDotProductCausalAttention(rate, rate > 0, backend)
	}
	if err != nil {
		t.Fatalf("attention: %v", err)
	}

	post := nn.NewAttentionOutput(8, 2, keys[1], backend)
	return reversible.NewAttentionHalfResidual(pre, att, post, backend)
}

func TestAttentionHalfResidualRoundtrip(t *testing.T) {
	backend := newBackend()
	step := newAttentionStep(t, backend, false, 0, 0, 1)

	in := reversible.Pair[adB]{
		S1: randTensor(2, tensor.Shape{1, 4, 8}, backend),
		S2: randTensor(3, tensor.Shape{1, 4, 8}, backend),
	}
	out, err := step.Forward(in, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	recon, err := step.Reverse(out, nil)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	checkClose(t, "stream 1", recon.S1.Data(), in.S1.Data(), 1e-4)
	if recon.S2.Raw() != in.S2.Raw() {
		t.Error("second stream should pass through untouched")
	}
}

func TestAttentionHalfResidualDropoutReplay(t *testing.T) {
	backend := newBackend()
	step := newAttentionStep(t, backend, false, 0, 0.3, 1)

	in := reversible.Pair[adB]{
		S1: randTensor(2, tensor.Shape{1, 4, 8}, backend),
		S2: randTensor(3, tensor.Shape{1, 4, 8}, backend),
	}
	out, err := step.Forward(in, rng.New(99))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// Reversing with the same key replays the dropout mask exactly.
	recon, err := step.Reverse(out, rng.New(99))
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	checkClose(t, "same key", recon.S1.Data(), in.S1.Data(), 1e-4)

	grad := reversible.Pair[adB]{
		S1: randTensor(4, tensor.Shape{1, 4, 8}, backend),
		S2: randTensor(5, tensor.Shape{1, 4, 8}, backend),
	}
	reconGrad, _, err := step.ReverseAndGrad(out, grad, rng.New(99))
	if err != nil {
		t.Fatalf("ReverseAndGrad: %v", err)
	}
	checkClose(t, "fused backward", reconGrad.S1.Data(), in.S1.Data(), 1e-4)
}

// The fused backward pass must agree with differentiating the whole residual
// on a tape.
func TestAttentionHalfResidualGradients(t *testing.T) {
	cases := []struct {
		name    string
		shareQK bool
		bins    int
	}{
		{"full attention", false, 0},
		{"shared qk", true, 0},
		{"binned", false, 2},
		{"binned shared qk", true, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newBackend()
			step := newAttentionStep(t, backend, tc.shareQK, tc.bins, 0, 1)

			x1 := randTensor(2, tensor.Shape{1, 4, 8}, backend)
			x2 := randTensor(3, tensor.Shape{1, 4, 8}, backend)
			ct1 := randTensor(4, tensor.Shape{1, 4, 8}, backend)
			ct2 := randTensor(5, tensor.Shape{1, 4, 8}, backend)

			out, err := step.Forward(reversible.Pair[adB]{S1: x1, S2: x2}, nil)
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}

			// Reference: record y1 = x1 + residual(x2) as one computation.
			refOuts, refPullback := backend.VJP(func() []*tensor.RawTensor {
				fwd, ferr := step.Forward(reversible.Pair[adB]{S1: x1, S2: x2}, nil)
				if ferr != nil {
					t.Fatalf("recorded Forward: %v", ferr)
				}
				return []*tensor.RawTensor{fwd.S1.Raw()}
			})
			checkClose(t, "recorded forward", refOuts[0].AsFloat32(), out.S1.Data(), 1e-4)
			refGrads := refPullback([]*tensor.RawTensor{ct1.Raw()})

			in, inGrad, err := step.ReverseAndGrad(out, reversible.Pair[adB]{S1: ct1, S2: ct2}, nil)
			if err != nil {
				t.Fatalf("ReverseAndGrad: %v", err)
			}
			checkClose(t, "reconstructed x1", in.S1.Data(), x1.Data(), 1e-3)

			wantGx2 := ct2.Add(tensor.New[float32, adB](refGrads[x2.Raw()], backend))
			checkClose(t, "gx2", inGrad.S2.Data(), wantGx2.Data(), 1e-3)

			params := step.Parameters()
			if len(params) == 0 {
				t.Fatal("no parameters")
			}
			for _, p := range params {
				ref := refGrads[p.Tensor().Raw()]
				if ref == nil {
					t.Errorf("parameter %s missing from the reference gradients", p.Name())
					continue
				}
				if p.Grad() == nil {
					t.Errorf("parameter %s has no fused gradient", p.Name())
					continue
				}
				checkClose(t, "param "+p.Name(), p.Grad().Data(), ref.AsFloat32(), 1e-3)
			}
		})
	}
}
