package nn

import (
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Gelu applies the GELU activation element-wise.
type Gelu[B tensor.Backend] struct{}

// NewGelu creates a Gelu layer.
func NewGelu[B tensor.Backend]() *Gelu[B] {
	return &Gelu[B]{}
}

// Forward applies gelu(x).
func (l *Gelu[B]) Forward(x *tensor.Tensor[float32, B], _ *rng.RNG) *tensor.Tensor[float32, B] {
	return x.Gelu()
}

// Parameters returns an empty slice.
func (l *Gelu[B]) Parameters() []*Parameter[B] {
	return nil
}

// LogSoftmax applies log-softmax along the last dimension, the usual final
// layer of a language model emitting log-probabilities.
type LogSoftmax[B tensor.Backend] struct{}

// NewLogSoftmax creates a LogSoftmax layer.
func NewLogSoftmax[B tensor.Backend]() *LogSoftmax[B] {
	return &LogSoftmax[B]{}
}

// Forward applies log-softmax over the last dimension.
func (l *LogSoftmax[B]) Forward(x *tensor.Tensor[float32, B], _ *rng.RNG) *tensor.Tensor[float32, B] {
	return x.LogSoftmax(-1)
}

// Parameters returns an empty slice.
func (l *LogSoftmax[B]) Parameters() []*Parameter[B] {
	return nil
}
