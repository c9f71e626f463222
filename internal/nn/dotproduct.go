package nn

import (
	"fmt"
	"math"

	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

const maskValue = -1e9

// causalMask builds an additive mask of shape [1, qLen, ctxLen]. Query
// position p may attend to context position j when j <= p + offset; every
// other entry holds a large negative value that softmax turns into zero.
func causalMask[B tensor.Backend](qLen, ctxLen, offset int, backend B) *tensor.Tensor[float32, B] {
	mask := tensor.Zeros[float32](tensor.Shape{1, qLen, ctxLen}, backend)
	data := mask.Data()
	for p := 0; p < qLen; p++ {
		for j := p + offset + 1; j < ctxLen; j++ {
			data[p*ctxLen+j] = maskValue
		}
	}
	return mask
}

// DotProductCausalAttention is scaled dot-product attention with a causal
// mask and optional dropout on the attention weights. Inputs are per-head
// tensors of shape [batch*heads, seq, d_head].
type DotProductCausalAttention[B tensor.Backend] struct {
	rate    float32
	active  bool
	backend B
}

// NewDotProductCausalAttention creates the attention op. Returns a
// ConfigurationError when rate is outside [0, 1).
func NewDotProductCausalAttention[B tensor.Backend](rate float32, active bool, backend B) (*DotProductCausalAttention[B], error) {
	if rate < 0 || rate >= 1 {
		return nil, &ConfigurationError{
			Field:  "rate",
			Reason: fmt.Sprintf("attention dropout rate %v must be in [0, 1)", rate),
		}
	}
	return &DotProductCausalAttention[B]{rate: rate, active: active, backend: backend}, nil
}

// weightMask draws a dropout mask for the attention weights, or returns nil
// when dropout is off. The single Bernoulli fill is the only draw either
// pass makes, so replaying the key replays the mask.
func (a *DotProductCausalAttention[B]) weightMask(shape tensor.Shape, r *rng.RNG) *tensor.Tensor[float32, B] {
	if !a.active || a.rate == 0 {
		return nil
	}
	if r == nil {
		panic("DotProductCausalAttention: nil rng with active dropout")
	}
	mask := tensor.Zeros[float32](shape, a.backend)
	r.Bernoulli(float64(1-a.rate), mask.Data())
	return mask
}

func checkAttentionInputs[B tensor.Backend](name string, q, k, v *tensor.Tensor[float32, B]) {
	if len(q.Shape()) != 3 {
		panic(fmt.Sprintf("%s: expected [batch*heads, seq, d_head] inputs, got shape %v", name, q.Shape()))
	}
	if !q.Shape().Equal(k.Shape()) || !q.Shape().Equal(v.Shape()) {
		panic(fmt.Sprintf("%s: q/k/v shapes differ: %v, %v, %v", name, q.Shape(), k.Shape(), v.Shape()))
	}
}

// Forward computes softmax(q k^T / sqrt(d)) v under a causal mask.
func (a *DotProductCausalAttention[B]) Forward(q, k, v *tensor.Tensor[float32, B], r *rng.RNG) *tensor.Tensor[float32, B] {
	checkAttentionInputs("DotProductCausalAttention.Forward", q, k, v)
	seq, dHead := q.Shape()[1], q.Shape()[2]
	scale := float32(1 / math.Sqrt(float64(dHead)))

	scores := q.BatchMatMul(k.Transpose(0, 2, 1)).MulScalar(scale)
	scores = scores.Add(causalMask(seq, seq, 0, a.backend))
	weights := scores.Softmax(-1)

	if mask := a.weightMask(weights.Shape(), r); mask != nil {
		weights = weights.Mul(mask.MulScalar(1 / (1 - a.rate)))
	}
	return weights.BatchMatMul(v)
}

// ForwardAndBackward recomputes the output and propagates the cotangent ct
// back to q, k and v in the same pass. The dropout mask is drawn once and
// applied on both sides of the softmax gradient.
func (a *DotProductCausalAttention[B]) ForwardAndBackward(q, k, v, ct *tensor.Tensor[float32, B], r *rng.RNG) (out, dq, dk, dv *tensor.Tensor[float32, B]) {
	checkAttentionInputs("DotProductCausalAttention.ForwardAndBackward", q, k, v)
	if !ct.Shape().Equal(q.Shape()) {
		panic(fmt.Sprintf("DotProductCausalAttention.ForwardAndBackward: cotangent shape %v does not match %v", ct.Shape(), q.Shape()))
	}
	seq, dHead := q.Shape()[1], q.Shape()[2]
	scale := float32(1 / math.Sqrt(float64(dHead)))

	scores := q.BatchMatMul(k.Transpose(0, 2, 1)).MulScalar(scale)
	scores = scores.Add(causalMask(seq, seq, 0, a.backend))
	weights := scores.Softmax(-1)
	// Pinned: weights and mask feed several products below and must not be
	// updated in place by the fast path.
	defer weights.Raw().ForceNonUnique()()

	dropped := weights
	mask := a.weightMask(weights.Shape(), r)
	if mask != nil {
		mask = mask.MulScalar(1 / (1 - a.rate))
		defer mask.Raw().ForceNonUnique()()
		dropped = weights.Mul(mask)
	}
	out = dropped.BatchMatMul(v)

	dv = dropped.Transpose(0, 2, 1).BatchMatMul(ct)
	dWeights := ct.BatchMatMul(v.Transpose(0, 2, 1))
	if mask != nil {
		dWeights = dWeights.Mul(mask)
	}

	// Softmax backward: ds = w * (dw - sum(w*dw)).
	dScores := weights.Mul(dWeights.Sub(weights.Mul(dWeights).SumDim(-1, true)))

	dq = dScores.BatchMatMul(k).MulScalar(scale)
	dk = dScores.Transpose(0, 2, 1).BatchMatMul(q).MulScalar(scale)
	return out, dq, dk, dv
}
