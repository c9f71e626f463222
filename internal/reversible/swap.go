package reversible

import (
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Swap exchanges the two streams. It is its own inverse and lets
// half-residual steps alternate which stream they update.
type Swap[B tensor.Backend] struct{}

// NewSwap creates a Swap step.
func NewSwap[B tensor.Backend]() *Swap[B] {
	return &Swap[B]{}
}

// Forward returns (x2, x1).
func (s *Swap[B]) Forward(p Pair[B], _ *rng.RNG) (Pair[B], error) {
	return Pair[B]{S1: p.S2, S2: p.S1}, nil
}

// Reverse returns (y2, y1).
func (s *Swap[B]) Reverse(p Pair[B], _ *rng.RNG) (Pair[B], error) {
	return Pair[B]{S1: p.S2, S2: p.S1}, nil
}

// ReverseAndGrad swaps the pair and its cotangent.
func (s *Swap[B]) ReverseAndGrad(out, grad Pair[B], _ *rng.RNG) (Pair[B], Pair[B], error) {
	return Pair[B]{S1: out.S2, S2: out.S1}, Pair[B]{S1: grad.S2, S2: grad.S1}, nil
}

// Parameters returns an empty slice.
func (s *Swap[B]) Parameters() []*nn.Parameter[B] {
	return nil
}
