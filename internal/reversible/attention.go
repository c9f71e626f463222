package reversible

import (
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// AttentionHalfResidual is the attention form of HalfResidual. The residual
// function is pre -> attention -> post, where pre projects the stream into
// per-head queries, keys and values and post merges heads back and applies
// the output projection.
//
// Splitting the residual this way lets ReverseAndGrad push the cotangent
// through post without first recomputing the attention output: post is
// affine in its input, so its input gradient can be read off at any point,
// including a zero tensor. The attention core then computes its own output
// and input gradients in a single pass instead of being recorded on a tape.
type AttentionHalfResidual[B tensor.Backend] struct {
	pre     *nn.QKVProjection[B]
	att     nn.CausalAttention[B]
	post    *nn.AttentionOutput[B]
	backend B
}

// NewAttentionHalfResidual assembles the step from its three parts.
func NewAttentionHalfResidual[B tensor.Backend](pre *nn.QKVProjection[B], att nn.CausalAttention[B], post *nn.AttentionOutput[B], backend B) *AttentionHalfResidual[B] {
	return &AttentionHalfResidual[B]{pre: pre, att: att, post: post, backend: backend}
}

// residual computes post(att(pre(x))). The step's key is consumed entirely
// by the attention core; pre and post are deterministic.
func (h *AttentionHalfResidual[B]) residual(x *tensor.Tensor[float32, B], r *rng.RNG) *tensor.Tensor[float32, B] {
	q, k, v := h.pre.Forward(x)
	return h.post.Forward(h.att.Forward(q, k, v, r))
}

// Forward computes (x1 + post(att(pre(x2))), x2).
func (h *AttentionHalfResidual[B]) Forward(p Pair[B], r *rng.RNG) (Pair[B], error) {
	defer p.S1.Raw().ForceNonUnique()()
	defer p.S2.Raw().ForceNonUnique()()

	fOut := h.residual(p.S2, r)
	if !fOut.Shape().Equal(p.S1.Shape()) {
		return Pair[B]{}, &ShapeMismatchError{Op: "AttentionHalfResidual.Forward", Want: p.S1.Shape(), Got: fOut.Shape()}
	}
	return Pair[B]{S1: p.S1.Add(fOut), S2: p.S2}, nil
}

// Reverse reconstructs the input by re-running the residual with the same
// key, replaying any dropout masks exactly.
func (h *AttentionHalfResidual[B]) Reverse(p Pair[B], r *rng.RNG) (Pair[B], error) {
	defer p.S1.Raw().ForceNonUnique()()
	defer p.S2.Raw().ForceNonUnique()()

	fOut := h.residual(p.S2, r)
	if !fOut.Shape().Equal(p.S1.Shape()) {
		return Pair[B]{}, &ShapeMismatchError{Op: "AttentionHalfResidual.Reverse", Want: p.S1.Shape(), Got: fOut.Shape()}
	}
	return Pair[B]{S1: p.S1.Sub(fOut), S2: p.S2}, nil
}

// ReverseAndGrad reconstructs the input pair and propagates the cotangent
// in one fused pass:
//
//  1. pre is recorded so its pullback can later route gradients from q, k
//     and v back to the stream and the projection weights.
//  2. post's input cotangent is read off at a zero stand-in for the
//     attention output; affinity makes the result exact.
//  3. the attention core recomputes its output and the q/k/v gradients
//     together, drawing the same dropout masks from a clone of the key.
//  4. post is recorded at the real attention output to collect its
//     parameter gradients and the residual value that inverts the step.
func (h *AttentionHalfResidual[B]) ReverseAndGrad(out, grad Pair[B], r *rng.RNG) (Pair[B], Pair[B], error) {
	if !out.S1.Shape().Equal(grad.S1.Shape()) {
		return Pair[B]{}, Pair[B]{}, &ShapeMismatchError{Op: "AttentionHalfResidual.ReverseAndGrad", Want: out.S1.Shape(), Got: grad.S1.Shape()}
	}
	if !out.S2.Shape().Equal(grad.S2.Shape()) {
		return Pair[B]{}, Pair[B]{}, &ShapeMismatchError{Op: "AttentionHalfResidual.ReverseAndGrad", Want: out.S2.Shape(), Got: grad.S2.Shape()}
	}
	vb, err := RequireVJP(any(h.backend))
	if err != nil {
		return Pair[B]{}, Pair[B]{}, err
	}

	defer out.S1.Raw().ForceNonUnique()()
	defer out.S2.Raw().ForceNonUnique()()
	defer grad.S1.Raw().ForceNonUnique()()
	defer grad.S2.Raw().ForceNonUnique()()

	var q, k, v *tensor.Tensor[float32, B]
	_, prePullback := vb.VJP(func() []*tensor.RawTensor {
		q, k, v = h.pre.Forward(out.S2)
		return []*tensor.RawTensor{q.Raw(), k.Raw(), v.Raw()}
	})

	dummy := tensor.ZerosLike(q)
	_, dummyPullback := vb.VJP(func() []*tensor.RawTensor {
		return []*tensor.RawTensor{h.post.Forward(dummy).Raw()}
	})
	dummyGrads := dummyPullback([]*tensor.RawTensor{grad.S1.Raw()})
	ctAtt := tensor.New[float32, B](dummyGrads[dummy.Raw()], h.backend)

	var attKey *rng.RNG
	if r != nil {
		attKey = r.Clone()
	}
	attOut, dq, dk, dv := h.att.ForwardAndBackward(q, k, v, ctAtt, attKey)

	postOuts, postPullback := vb.VJP(func() []*tensor.RawTensor {
		return []*tensor.RawTensor{h.post.Forward(attOut).Raw()}
	})
	fOut := tensor.New[float32, B](postOuts[0], h.backend)
	if !fOut.Shape().Equal(out.S1.Shape()) {
		return Pair[B]{}, Pair[B]{}, &ShapeMismatchError{Op: "AttentionHalfResidual.ReverseAndGrad", Want: out.S1.Shape(), Got: fOut.Shape()}
	}
	postGrads := postPullback([]*tensor.RawTensor{grad.S1.Raw()})
	accumParamGrads(h.post.Parameters(), postGrads, h.backend)

	x1 := out.S1.Sub(fOut)

	preGrads := prePullback([]*tensor.RawTensor{dq.Raw(), dk.Raw(), dv.Raw()})
	gx2 := grad.S2
	if g := preGrads[out.S2.Raw()]; g != nil {
		gx2 = grad.S2.Add(tensor.New[float32, B](g, h.backend))
	}
	accumParamGrads(h.pre.Parameters(), preGrads, h.backend)

	return Pair[B]{S1: x1, S2: out.S2}, Pair[B]{S1: grad.S1, S2: gx2}, nil
}

// Parameters returns the projection parameters of pre and post.
func (h *AttentionHalfResidual[B]) Parameters() []*nn.Parameter[B] {
	return append(h.pre.Parameters(), h.post.Parameters()...)
}
