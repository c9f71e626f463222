package reversible

import (
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// HalfResidual applies a residual function f to the second stream and adds
// the result onto the first:
//
//	y1 = x1 + f(x2)
//	y2 = x2
//
// Since y2 carries x2 through unchanged, the input is recoverable from the
// output alone: x1 = y1 - f(y2). The usual arrangement alternates
// HalfResidual with Swap so both streams get updated.
type HalfResidual[B tensor.Backend] struct {
	f       nn.Layer[B]
	backend B
}

// NewHalfResidual wraps a residual function. f must preserve its input
// shape.
func NewHalfResidual[B tensor.Backend](f nn.Layer[B], backend B) *HalfResidual[B] {
	return &HalfResidual[B]{f: f, backend: backend}
}

// Forward computes (x1 + f(x2), x2).
//
// Both streams are pinned for the duration of the call so no op rewrites
// them in place; the reversal depends on the inputs surviving unmodified.
func (h *HalfResidual[B]) Forward(p Pair[B], r *rng.RNG) (Pair[B], error) {
	defer p.S1.Raw().ForceNonUnique()()
	defer p.S2.Raw().ForceNonUnique()()

	fOut := h.f.Forward(p.S2, r)
	if !fOut.Shape().Equal(p.S1.Shape()) {
		return Pair[B]{}, &ShapeMismatchError{Op: "HalfResidual.Forward", Want: p.S1.Shape(), Got: fOut.Shape()}
	}
	return Pair[B]{S1: p.S1.Add(fOut), S2: p.S2}, nil
}

// Reverse reconstructs (x1, x2) from (y1, y2) by re-running f on y2 with
// the same key the forward pass used.
func (h *HalfResidual[B]) Reverse(p Pair[B], r *rng.RNG) (Pair[B], error) {
	defer p.S1.Raw().ForceNonUnique()()
	defer p.S2.Raw().ForceNonUnique()()

	fOut := h.f.Forward(p.S2, r)
	if !fOut.Shape().Equal(p.S1.Shape()) {
		return Pair[B]{}, &ShapeMismatchError{Op: "HalfResidual.Reverse", Want: p.S1.Shape(), Got: fOut.Shape()}
	}
	return Pair[B]{S1: p.S1.Sub(fOut), S2: p.S2}, nil
}

// ReverseAndGrad reconstructs the input pair and propagates the cotangent.
// The single re-execution of f serves both purposes: its value inverts the
// residual and its recording yields the gradients.
//
//	x1  = y1 - f(y2)
//	gx1 = gy1
//	gx2 = gy2 + (df/dy2)^T gy1
func (h *HalfResidual[B]) ReverseAndGrad(out, grad Pair[B], r *rng.RNG) (Pair[B], Pair[B], error) {
	if !out.S1.Shape().Equal(grad.S1.Shape()) {
		return Pair[B]{}, Pair[B]{}, &ShapeMismatchError{Op: "HalfResidual.ReverseAndGrad", Want: out.S1.Shape(), Got: grad.S1.Shape()}
	}
	if !out.S2.Shape().Equal(grad.S2.Shape()) {
		return Pair[B]{}, Pair[B]{}, &ShapeMismatchError{Op: "HalfResidual.ReverseAndGrad", Want: out.S2.Shape(), Got: grad.S2.Shape()}
	}
	vb, err := RequireVJP(any(h.backend))
	if err != nil {
		return Pair[B]{}, Pair[B]{}, err
	}

	defer out.S1.Raw().ForceNonUnique()()
	defer out.S2.Raw().ForceNonUnique()()
	defer grad.S1.Raw().ForceNonUnique()()
	defer grad.S2.Raw().ForceNonUnique()()

	outs, pullback := vb.VJP(func() []*tensor.RawTensor {
		return []*tensor.RawTensor{h.f.Forward(out.S2, r).Raw()}
	})
	fOut := tensor.New[float32, B](outs[0], h.backend)
	if !fOut.Shape().Equal(out.S1.Shape()) {
		return Pair[B]{}, Pair[B]{}, &ShapeMismatchError{Op: "HalfResidual.ReverseAndGrad", Want: out.S1.Shape(), Got: fOut.Shape()}
	}

	x1 := out.S1.Sub(fOut)

	grads := pullback([]*tensor.RawTensor{grad.S1.Raw()})
	gx2 := grad.S2
	if g := grads[out.S2.Raw()]; g != nil {
		gx2 = grad.S2.Add(tensor.New[float32, B](g, h.backend))
	}
	accumParamGrads(h.f.Parameters(), grads, h.backend)

	return Pair[B]{S1: x1, S2: out.S2}, Pair[B]{S1: grad.S1, S2: gx2}, nil
}

// Parameters returns the residual function's parameters.
func (h *HalfResidual[B]) Parameters() []*nn.Parameter[B] {
	return h.f.Parameters()
}
