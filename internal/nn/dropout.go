package nn

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// BroadcastedDropout drops activations with a mask that is broadcast along
// the given dimensions, saving memory for long sequences. Kept activations
// are scaled by 1/(1-rate).
//
// The mask is a pure function of the random stream: calling Forward twice
// with the same key draws the same mask, which reversible residuals rely on
// when they re-execute the forward pass.
type BroadcastedDropout[B tensor.Backend] struct {
	rate          float32
	broadcastDims []int
	active        bool
	backend       B
}

// NewBroadcastedDropout creates a dropout layer. The default broadcast
// dimension is -2 (the sequence dimension for [batch, seq, d] inputs).
// Returns a ConfigurationError when rate is outside [0, 1).
func NewBroadcastedDropout[B tensor.Backend](rate float32, active bool, backend B, broadcastDims ...int) (*BroadcastedDropout[B], error) {
	if rate < 0 || rate >= 1 {
		return nil, &ConfigurationError{
			Field:  "rate",
			Reason: fmt.Sprintf("dropout rate %v must be in [0, 1)", rate),
		}
	}
	if len(broadcastDims) == 0 {
		broadcastDims = []int{-2}
	}
	return &BroadcastedDropout[B]{
		rate:          rate,
		broadcastDims: broadcastDims,
		active:        active,
		backend:       backend,
	}, nil
}

// Forward applies the dropout mask. Inactive layers and zero rates pass the
// input through unchanged.
func (l *BroadcastedDropout[B]) Forward(x *tensor.Tensor[float32, B], r *rng.RNG) *tensor.Tensor[float32, B] {
	if !l.active || l.rate == 0 {
		return x
	}
	if r == nil {
		panic("BroadcastedDropout: nil rng")
	}

	maskShape := x.Shape().Clone()
	for _, dim := range l.broadcastDims {
		maskShape[maskShape.Normalize(dim)] = 1
	}

	keep := 1 - l.rate
	mask := tensor.Zeros[float32](maskShape, l.backend)
	r.Bernoulli(float64(keep), mask.Data())

	return x.Mul(mask.MulScalar(1 / keep))
}

// Parameters returns an empty slice; dropout has no trainable state.
func (l *BroadcastedDropout[B]) Parameters() []*Parameter[B] {
	return nil
}
