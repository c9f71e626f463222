package nn

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// CausalAttention is the contract attention variants implement. All tensors
// are laid out per head: [batch*heads, seq, d_head].
//
// ForwardAndBackward recomputes the attention output and, in the same pass,
// the gradients of a cotangent ct with respect to q, k and v. Variants have
// no trainable parameters of their own; projections live outside.
//
// Both methods must draw from the random stream identically, so a caller
// holding a clone of the key used in Forward can replay the exact dropout
// mask during the backward pass.
type CausalAttention[B tensor.Backend] interface {
	Forward(q, k, v *tensor.Tensor[float32, B], r *rng.RNG) *tensor.Tensor[float32, B]
	ForwardAndBackward(q, k, v, ct *tensor.Tensor[float32, B], r *rng.RNG) (out, dq, dk, dv *tensor.Tensor[float32, B])
}

// SplitHeads reshapes [batch, seq, d_model] into per-head layout
// [batch*heads, seq, d_model/heads].
func SplitHeads[B tensor.Backend](x *tensor.Tensor[float32, B], nHeads int) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("SplitHeads: expected rank-3 input, got shape %v", shape))
	}
	batch, seq, dModel := shape[0], shape[1], shape[2]
	if dModel%nHeads != 0 {
		panic(fmt.Sprintf("SplitHeads: d_model %d not divisible by %d heads", dModel, nHeads))
	}
	dHead := dModel / nHeads

	return x.Reshape(batch, seq, nHeads, dHead).
		Transpose(0, 2, 1, 3).
		Reshape(batch*nHeads, seq, dHead)
}

// MergeHeads is the inverse of SplitHeads: [batch*heads, seq, d_head] back
// to [batch, seq, heads*d_head].
func MergeHeads[B tensor.Backend](x *tensor.Tensor[float32, B], nHeads int) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("MergeHeads: expected rank-3 input, got shape %v", shape))
	}
	if shape[0]%nHeads != 0 {
		panic(fmt.Sprintf("MergeHeads: leading dimension %d not divisible by %d heads", shape[0], nHeads))
	}
	batch, seq, dHead := shape[0]/nHeads, shape[1], shape[2]

	return x.Reshape(batch, nHeads, seq, dHead).
		Transpose(0, 2, 1, 3).
		Reshape(batch, seq, nHeads*dHead)
}

// QKVProjection normalizes the input and projects it into per-head query,
// key and value tensors. With shareQK the query projection doubles as the
// key projection, keeping keys and queries identical the way LSH-style
// attention requires.
type QKVProjection[B tensor.Backend] struct {
	norm    *LayerNorm[B]
	q       *Dense[B]
	k       *Dense[B] // same object as q when sharing
	v       *Dense[B]
	nHeads  int
	shareQK bool
}

// NewQKVProjection creates the projection block. Returns a
// ConfigurationError when dModel is not divisible by nHeads.
func NewQKVProjection[B tensor.Backend](dModel, nHeads int, shareQK bool, r *rng.RNG, backend B) (*QKVProjection[B], error) {
	if nHeads <= 0 || dModel%nHeads != 0 {
		return nil, &ConfigurationError{
			Field:  "nHeads",
			Reason: fmt.Sprintf("d_model %d must be divisible by a positive head count, got %d", dModel, nHeads),
		}
	}

	keys := r.Split(3)
	q := NewDense(dModel, dModel, keys[0], backend)
	k := q
	if !shareQK {
		k = NewDense(dModel, dModel, keys[1], backend)
	}
	v := NewDense(dModel, dModel, keys[2], backend)

	return &QKVProjection[B]{
		norm:    NewLayerNorm(dModel, 1e-6, backend),
		q:       q,
		k:       k,
		v:       v,
		nHeads:  nHeads,
		shareQK: shareQK,
	}, nil
}

// Forward maps [batch, seq, d_model] to three per-head tensors of shape
// [batch*heads, seq, d_head].
func (p *QKVProjection[B]) Forward(x *tensor.Tensor[float32, B]) (q, k, v *tensor.Tensor[float32, B]) {
	normed := p.norm.Forward(x, nil)
	q = SplitHeads(p.q.Forward(normed, nil), p.nHeads)
	k = SplitHeads(p.k.Forward(normed, nil), p.nHeads)
	v = SplitHeads(p.v.Forward(normed, nil), p.nHeads)
	return q, k, v
}

// Parameters returns the norm and projection parameters. The shared
// query/key projection is reported once.
func (p *QKVProjection[B]) Parameters() []*Parameter[B] {
	params := p.norm.Parameters()
	params = append(params, p.q.Parameters()...)
	if !p.shareQK {
		params = append(params, p.k.Parameters()...)
	}
	return append(params, p.v.Parameters()...)
}

// AttentionOutput merges heads and applies the output projection. The map
// from per-head attention output to the block output is affine, so its
// input gradient does not depend on the point it is evaluated at.
type AttentionOutput[B tensor.Backend] struct {
	dense  *Dense[B]
	nHeads int
}

// NewAttentionOutput creates the output projection for nHeads heads.
func NewAttentionOutput[B tensor.Backend](dModel, nHeads int, r *rng.RNG, backend B) *AttentionOutput[B] {
	return &AttentionOutput[B]{
		dense:  NewDense(dModel, dModel, r, backend),
		nHeads: nHeads,
	}
}

// Forward maps [batch*heads, seq, d_head] to [batch, seq, d_model].
func (o *AttentionOutput[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return o.dense.Forward(MergeHeads(x, o.nHeads), nil)
}

// Parameters returns the projection parameters.
func (o *AttentionOutput[B]) Parameters() []*Parameter[B] {
	return o.dense.Parameters()
}
