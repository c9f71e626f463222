// Package nn implements the neural network layers used by the reversible
// transformer stack.
//
// Layers are deliberately small:
//   - Layer interface: Forward plus Parameters
//   - Parameter: trainable tensor with an accumulated gradient
//   - Dense, LayerNorm, BroadcastedDropout, Gelu, LogSoftmax
//   - Serial, Map: containers
//   - Embedding, PositionalEncoding: token embedding front-end
//   - CausalAttention implementations: dot-product and time-binned
//
// Every Forward takes an *rng.RNG. Stochastic layers draw from it; since
// keys split structurally (see the rng package), running the same layer with
// the same key replays the same draws. This is what allows a reversible
// residual to re-execute its forward pass during the backward pass and see
// identical dropout masks.
//
// Shape or configuration violations inside layers are programmer errors and
// panic; the reversible engine package is the error-returning surface.
package nn

import (
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Layer is the base interface for network components.
type Layer[B tensor.Backend] interface {
	// Forward computes the layer output. r may be nil for deterministic
	// layers; stochastic layers panic without one.
	Forward(x *tensor.Tensor[float32, B], r *rng.RNG) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this layer, including
	// nested ones. Returns an empty slice for parameterless layers.
	Parameters() []*Parameter[B]
}
