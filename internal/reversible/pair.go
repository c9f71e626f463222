package reversible

import (
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Pair is the two-stream activation a reversible step operates on. The
// streams may alias the same underlying buffer; callers releasing a pair
// must account for that.
type Pair[B tensor.Backend] struct {
	S1 *tensor.Tensor[float32, B]
	S2 *tensor.Tensor[float32, B]
}

// NewPair duplicates x into a pair, the usual way to enter a reversible
// chain. The second stream is a copy so the two streams can be updated
// independently.
func NewPair[B tensor.Backend](x *tensor.Tensor[float32, B]) Pair[B] {
	return Pair[B]{S1: x, S2: x.Clone()}
}

// Shapes returns the shapes of both streams.
func (p Pair[B]) Shapes() (tensor.Shape, tensor.Shape) {
	return p.S1.Shape(), p.S2.Shape()
}

// matches reports whether both streams of q have the same shapes as p.
func (p Pair[B]) matches(q Pair[B]) bool {
	return p.S1.Shape().Equal(q.S1.Shape()) && p.S2.Shape().Equal(q.S2.Shape())
}
