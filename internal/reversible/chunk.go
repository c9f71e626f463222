package reversible

import (
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Chunk folds the sequence dimension into the batch:
//
//	[batch, seq, ...] -> [batch*n, seq/n, ...]
//
// Position-wise layers produce identical values either way, but anything
// sized by the sequence length (normalization statistics aside, mostly
// intermediate buffers) shrinks by a factor of n. Returns a
// DivisibilityError when seq does not divide by n.
func Chunk[B tensor.Backend](x *tensor.Tensor[float32, B], n int) (*tensor.Tensor[float32, B], error) {
	shape := x.Shape()
	if len(shape) < 2 {
		return nil, &ShapeMismatchError{Op: "Chunk", Want: tensor.Shape{-1, -1}, Got: shape}
	}
	if shape[1]%n != 0 {
		return nil, &DivisibilityError{What: "sequence length", Size: shape[1], Divisor: n}
	}

	newShape := append(tensor.Shape{shape[0] * n, shape[1] / n}, shape[2:]...)
	return x.Reshape(newShape...), nil
}

// Unchunk is the inverse of Chunk: [batch*n, seq, ...] -> [batch, seq*n, ...].
func Unchunk[B tensor.Backend](x *tensor.Tensor[float32, B], n int) (*tensor.Tensor[float32, B], error) {
	shape := x.Shape()
	if len(shape) < 2 {
		return nil, &ShapeMismatchError{Op: "Unchunk", Want: tensor.Shape{-1, -1}, Got: shape}
	}
	if shape[0]%n != 0 {
		return nil, &DivisibilityError{What: "batch dimension", Size: shape[0], Divisor: n}
	}

	newShape := append(tensor.Shape{shape[0] / n, shape[1] * n}, shape[2:]...)
	return x.Reshape(newShape...), nil
}

// ChunkedApply runs a position-wise layer over the sequence one chunk at a
// time. Only a single chunk's activations are alive inside the loop, which
// bounds the layer's working memory by the chunk size instead of the full
// sequence length.
//
// Each chunk draws from its own key, so the layer's output for a given
// chunk count is deterministic in the pass key.
type ChunkedApply[B tensor.Backend] struct {
	inner   nn.Layer[B]
	nChunks int
}

// NewChunkedApply wraps inner. Returns a ConfigurationError when nChunks is
// not positive.
func NewChunkedApply[B tensor.Backend](inner nn.Layer[B], nChunks int) (*ChunkedApply[B], error) {
	if nChunks < 1 {
		return nil, &ConfigurationError{
			Field:  "nChunks",
			Reason: "chunk count must be at least 1",
		}
	}
	return &ChunkedApply[B]{inner: inner, nChunks: nChunks}, nil
}

// Forward applies the inner layer chunk by chunk along the sequence
// dimension and concatenates the results. Panics with a DivisibilityError
// when the sequence length does not divide by the chunk count.
func (c *ChunkedApply[B]) Forward(x *tensor.Tensor[float32, B], r *rng.RNG) *tensor.Tensor[float32, B] {
	if c.nChunks == 1 {
		return c.inner.Forward(x, r)
	}
	shape := x.Shape()
	if shape[1]%c.nChunks != 0 {
		panic(&DivisibilityError{What: "sequence length", Size: shape[1], Divisor: c.nChunks})
	}

	keys := splitOrNil(r, c.nChunks)
	parts := x.Split(c.nChunks, 1)
	outs := make([]*tensor.Tensor[float32, B], c.nChunks)
	for i, part := range parts {
		outs[i] = c.inner.Forward(part, keyAt(keys, i))
	}
	return tensor.Cat(outs, 1)
}

// Parameters returns the inner layer's parameters.
func (c *ChunkedApply[B]) Parameters() []*nn.Parameter[B] {
	return c.inner.Parameters()
}

func splitOrNil(r *rng.RNG, n int) []*rng.RNG {
	if r == nil {
		return nil
	}
	return r.Split(n)
}
