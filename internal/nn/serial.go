package nn

import (
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Serial chains layers, feeding each output into the next layer.
//
// The random stream is split once per contained layer, so each layer sees a
// stable key regardless of how many draws its neighbors make.
type Serial[B tensor.Backend] struct {
	layers []Layer[B]
}

// NewSerial creates a Serial container.
func NewSerial[B tensor.Backend](layers ...Layer[B]) *Serial[B] {
	return &Serial[B]{layers: layers}
}

// Forward applies each layer in order.
func (s *Serial[B]) Forward(x *tensor.Tensor[float32, B], r *rng.RNG) *tensor.Tensor[float32, B] {
	keys := splitOrNil(r, len(s.layers))
	for i, l := range s.layers {
		x = l.Forward(x, keyAt(keys, i))
	}
	return x
}

// Parameters returns the parameters of all contained layers.
func (s *Serial[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, l := range s.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// Layers returns the contained layers.
func (s *Serial[B]) Layers() []Layer[B] {
	return s.layers
}

// splitOrNil splits r into n children, or returns nil when r is nil.
func splitOrNil(r *rng.RNG, n int) []*rng.RNG {
	if r == nil {
		return nil
	}
	return r.Split(n)
}

func keyAt(keys []*rng.RNG, i int) *rng.RNG {
	if keys == nil {
		return nil
	}
	return keys[i]
}
