package nn

import (
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// NewFeedForward builds the standard transformer feed-forward block:
//
//	LayerNorm -> Dense(dFF) -> Dropout -> Gelu -> Dense(dModel) -> Dropout
//
// The dropout mask broadcasts along the sequence dimension. Returns a
// ConfigurationError when the dropout rate is invalid.
func NewFeedForward[B tensor.Backend](dModel, dFF int, dropout float32, train bool, r *rng.RNG, backend B) (*Serial[B], error) {
	keys := r.Split(2)

	drop1, err := NewBroadcastedDropout(dropout, train, backend)
	if err != nil {
		return nil, err
	}
	drop2, err := NewBroadcastedDropout(dropout, train, backend)
	if err != nil {
		return nil, err
	}

	return NewSerial[B](
		NewLayerNorm(dModel, 1e-6, backend),
		NewDense(dModel, dFF, keys[0], backend),
		drop1,
		NewGelu[B](),
		NewDense(dFF, dModel, keys[1], backend),
		drop2,
	), nil
}
