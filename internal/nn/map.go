package nn

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Map applies one layer independently to each tensor in a slice, e.g. the
// per-section output head after the trunk has split its result into chunks.
type Map[B tensor.Backend] struct {
	inner       Layer[B]
	checkShapes bool
}

// NewMap creates a Map around inner. When checkShapes is true, Forward
// panics unless all sections share one shape.
func NewMap[B tensor.Backend](inner Layer[B], checkShapes bool) *Map[B] {
	return &Map[B]{inner: inner, checkShapes: checkShapes}
}

// Forward applies the inner layer to every section.
func (m *Map[B]) Forward(xs []*tensor.Tensor[float32, B], r *rng.RNG) []*tensor.Tensor[float32, B] {
	if m.checkShapes && len(xs) > 1 {
		first := xs[0].Shape()
		for i, x := range xs[1:] {
			if !x.Shape().Equal(first) {
				panic(fmt.Sprintf("Map.Forward: section %d shape %v differs from %v", i+1, x.Shape(), first))
			}
		}
	}

	keys := splitOrNil(r, len(xs))
	outs := make([]*tensor.Tensor[float32, B], len(xs))
	for i, x := range xs {
		outs[i] = m.inner.Forward(x, keyAt(keys, i))
	}
	return outs
}

// Parameters returns the inner layer's parameters.
func (m *Map[B]) Parameters() []*Parameter[B] {
	return m.inner.Parameters()
}
