package nn

import (
	"fmt"
	"math"

	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// TimeBinCausalAttention restricts attention to fixed time bins: the
// sequence is cut into nBins equal bins and each position attends causally
// to its own bin and the one before it. Cost per query drops from the full
// sequence length to twice the bin length. With nBins = 1 it degenerates to
// full causal attention.
type TimeBinCausalAttention[B tensor.Backend] struct {
	nBins   int
	rate    float32
	active  bool
	backend B
}

// NewTimeBinCausalAttention creates the attention op. Returns a
// ConfigurationError when nBins < 1 or rate is outside [0, 1).
func NewTimeBinCausalAttention[B tensor.Backend](nBins int, rate float32, active bool, backend B) (*TimeBinCausalAttention[B], error) {
	if nBins < 1 {
		return nil, &ConfigurationError{
			Field:  "nBins",
			Reason: fmt.Sprintf("bin count must be at least 1, got %d", nBins),
		}
	}
	if rate < 0 || rate >= 1 {
		return nil, &ConfigurationError{
			Field:  "rate",
			Reason: fmt.Sprintf("attention dropout rate %v must be in [0, 1)", rate),
		}
	}
	return &TimeBinCausalAttention[B]{nBins: nBins, rate: rate, active: active, backend: backend}, nil
}

func (a *TimeBinCausalAttention[B]) binLength(seq int) int {
	if seq%a.nBins != 0 || seq/a.nBins == 0 {
		panic(&DivisibilityError{What: "sequence length", Size: seq, Divisor: a.nBins})
	}
	return seq / a.nBins
}

// binContext assembles the key or value context for bin i: the bin itself
// for the first bin, the previous bin concatenated with it otherwise.
func binContext[B tensor.Backend](bins []*tensor.Tensor[float32, B], i int) *tensor.Tensor[float32, B] {
	if i == 0 {
		return bins[0]
	}
	return tensor.Cat([]*tensor.Tensor[float32, B]{bins[i-1], bins[i]}, 1)
}

func (a *TimeBinCausalAttention[B]) binMask(shape tensor.Shape, r *rng.RNG) *tensor.Tensor[float32, B] {
	if !a.active || a.rate == 0 {
		return nil
	}
	if r == nil {
		panic("TimeBinCausalAttention: nil rng with active dropout")
	}
	mask := tensor.Zeros[float32](shape, a.backend)
	r.Bernoulli(float64(1-a.rate), mask.Data())
	return mask.MulScalar(1 / (1 - a.rate))
}

// Forward computes binned causal attention. Panics with a DivisibilityError
// when the sequence length does not divide into nBins bins.
//
// Dropout masks are drawn bin by bin in order, so both passes make the same
// sequence of draws from the stream.
func (a *TimeBinCausalAttention[B]) Forward(q, k, v *tensor.Tensor[float32, B], r *rng.RNG) *tensor.Tensor[float32, B] {
	checkAttentionInputs("TimeBinCausalAttention.Forward", q, k, v)
	seq, dHead := q.Shape()[1], q.Shape()[2]
	binLen := a.binLength(seq)
	scale := float32(1 / math.Sqrt(float64(dHead)))

	qBins := q.Split(a.nBins, 1)
	kBins := k.Split(a.nBins, 1)
	vBins := v.Split(a.nBins, 1)

	outs := make([]*tensor.Tensor[float32, B], a.nBins)
	for i := 0; i < a.nBins; i++ {
		ctxK := binContext(kBins, i)
		ctxV := binContext(vBins, i)
		offset := 0
		if i > 0 {
			offset = binLen
		}

		scores := qBins[i].BatchMatMul(ctxK.Transpose(0, 2, 1)).MulScalar(scale)
		scores = scores.Add(causalMask(binLen, ctxK.Shape()[1], offset, a.backend))
		weights := scores.Softmax(-1)

		if mask := a.binMask(weights.Shape(), r); mask != nil {
			weights = weights.Mul(mask)
		}
		outs[i] = weights.BatchMatMul(ctxV)
	}
	return tensor.Cat(outs, 1)
}

// ForwardAndBackward recomputes the output and the gradients of ct with
// respect to q, k and v. Each bin's key and value gradients scatter back to
// the bin itself and, past the first bin, to the bin before it.
func (a *TimeBinCausalAttention[B]) ForwardAndBackward(q, k, v, ct *tensor.Tensor[float32, B], r *rng.RNG) (out, dq, dk, dv *tensor.Tensor[float32, B]) {
	checkAttentionInputs("TimeBinCausalAttention.ForwardAndBackward", q, k, v)
	if !ct.Shape().Equal(q.Shape()) {
		panic(fmt.Sprintf("TimeBinCausalAttention.ForwardAndBackward: cotangent shape %v does not match %v", ct.Shape(), q.Shape()))
	}
	seq, dHead := q.Shape()[1], q.Shape()[2]
	binLen := a.binLength(seq)
	scale := float32(1 / math.Sqrt(float64(dHead)))

	qBins := q.Split(a.nBins, 1)
	kBins := k.Split(a.nBins, 1)
	vBins := v.Split(a.nBins, 1)
	ctBins := ct.Split(a.nBins, 1)

	outs := make([]*tensor.Tensor[float32, B], a.nBins)
	dqBins := make([]*tensor.Tensor[float32, B], a.nBins)
	dkBins := make([]*tensor.Tensor[float32, B], a.nBins)
	dvBins := make([]*tensor.Tensor[float32, B], a.nBins)

	accum := func(bins []*tensor.Tensor[float32, B], i int, t *tensor.Tensor[float32, B]) {
		if bins[i] == nil {
			bins[i] = t
		} else {
			bins[i] = bins[i].Add(t)
		}
	}

	for i := 0; i < a.nBins; i++ {
		ctxK := binContext(kBins, i)
		ctxV := binContext(vBins, i)
		offset := 0
		if i > 0 {
			offset = binLen
		}

		scores := qBins[i].BatchMatMul(ctxK.Transpose(0, 2, 1)).MulScalar(scale)
		scores = scores.Add(causalMask(binLen, ctxK.Shape()[1], offset, a.backend))
		weights := scores.Softmax(-1)
		// Pinned until the score gradient is done: weights and mask feed
		// several products and must not be updated in place.
		unpinWeights := weights.Raw().ForceNonUnique()

		dropped := weights
		mask := a.binMask(weights.Shape(), r)
		unpinMask := func() {}
		if mask != nil {
			unpinMask = mask.Raw().ForceNonUnique()
			dropped = weights.Mul(mask)
		}
		outs[i] = dropped.BatchMatMul(ctxV)

		dCtxV := dropped.Transpose(0, 2, 1).BatchMatMul(ctBins[i])
		dWeights := ctBins[i].BatchMatMul(ctxV.Transpose(0, 2, 1))
		if mask != nil {
			dWeights = dWeights.Mul(mask)
		}
		dScores := weights.Mul(dWeights.Sub(weights.Mul(dWeights).SumDim(-1, true)))
		unpinWeights()
		unpinMask()

		dqBins[i] = dScores.BatchMatMul(ctxK).MulScalar(scale)
		dCtxK := dScores.Transpose(0, 2, 1).BatchMatMul(qBins[i]).MulScalar(scale)

		if i == 0 {
			accum(dkBins, 0, dCtxK)
			accum(dvBins, 0, dCtxV)
		} else {
			kHalves := dCtxK.Split(2, 1)
			vHalves := dCtxV.Split(2, 1)
			accum(dkBins, i-1, kHalves[0])
			accum(dkBins, i, kHalves[1])
			accum(dvBins, i-1, vHalves[0])
			accum(dvBins, i, vHalves[1])
		}
	}

	out = tensor.Cat(outs, 1)
	dq = tensor.Cat(dqBins, 1)
	dk = tensor.Cat(dkBins, 1)
	dv = tensor.Cat(dvBins, 1)
	return out, dq, dk, dv
}
