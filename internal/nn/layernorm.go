package nn

import (
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// LayerNorm applies layer normalization along the last dimension:
//
//	y = gamma * (x - mean(x)) / sqrt(var(x) + eps) + beta
//
// gamma is initialized to ones, beta to zeros.
type LayerNorm[B tensor.Backend] struct {
	Gamma   *Parameter[B] // learnable scale [d_model]
	Beta    *Parameter[B] // learnable shift [d_model]
	Epsilon float32
	backend B
}

// NewLayerNorm creates a LayerNorm over the last dimension of size d.
func NewLayerNorm[B tensor.Backend](d int, epsilon float32, backend B) *LayerNorm[B] {
	gamma := tensor.Ones[float32](tensor.Shape{d}, backend)
	beta := tensor.Zeros[float32](tensor.Shape{d}, backend)

	return &LayerNorm[B]{
		Gamma:   NewParameter("gamma", gamma),
		Beta:    NewParameter("beta", beta),
		Epsilon: epsilon,
		backend: backend,
	}
}

// Forward normalizes x along its last dimension.
func (l *LayerNorm[B]) Forward(x *tensor.Tensor[float32, B], _ *rng.RNG) *tensor.Tensor[float32, B] {
	mean := x.MeanDim(-1, true)
	centered := x.Sub(mean)
	// Pinned: centered feeds two products and must not be updated in place.
	defer centered.Raw().ForceNonUnique()()
	variance := centered.Mul(centered).MeanDim(-1, true)

	norm := centered.Mul(variance.AddScalar(l.Epsilon).Rsqrt())

	// gamma and beta are [d]; broadcasting aligns them with [..., d].
	return norm.Mul(l.Gamma.Tensor()).Add(l.Beta.Tensor())
}

// Parameters returns [gamma, beta].
func (l *LayerNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.Gamma, l.Beta}
}
