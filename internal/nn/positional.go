package nn

import (
	"fmt"
	"math"

	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// PositionalEncoding adds fixed sinusoidal position signals to its input:
//
//	pe[pos, 2i]   = sin(pos / 10000^(2i/d))
//	pe[pos, 2i+1] = cos(pos / 10000^(2i/d))
//
// The table is precomputed up to maxLen positions and sliced per call.
type PositionalEncoding[B tensor.Backend] struct {
	dModel  int
	maxLen  int
	table   *tensor.Tensor[float32, B]
	backend B
}

// NewPositionalEncoding builds the sinusoidal table for sequences up to
// maxLen tokens.
func NewPositionalEncoding[B tensor.Backend](dModel, maxLen int, backend B) *PositionalEncoding[B] {
	table := tensor.Zeros[float32](tensor.Shape{maxLen, dModel}, backend)
	data := table.Data()
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dModel; i += 2 {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(dModel))
			data[pos*dModel+i] = float32(math.Sin(angle))
			if i+1 < dModel {
				data[pos*dModel+i+1] = float32(math.Cos(angle))
			}
		}
	}

	return &PositionalEncoding[B]{
		dModel:  dModel,
		maxLen:  maxLen,
		table:   table,
		backend: backend,
	}
}

// Forward adds position signals to x of shape [batch, seq, d_model].
func (l *PositionalEncoding[B]) Forward(x *tensor.Tensor[float32, B], _ *rng.RNG) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 3 || shape[2] != l.dModel {
		panic(fmt.Sprintf("PositionalEncoding.Forward: expected [batch, seq, %d], got shape %v", l.dModel, shape))
	}
	seq := shape[1]
	if seq > l.maxLen {
		panic(fmt.Sprintf("PositionalEncoding.Forward: sequence length %d exceeds table size %d", seq, l.maxLen))
	}

	slice := tensor.Zeros[float32](tensor.Shape{1, seq, l.dModel}, l.backend)
	copy(slice.Data(), l.table.Data()[:seq*l.dModel])
	return x.Add(slice)
}

// Parameters returns an empty slice; the table is fixed.
func (l *PositionalEncoding[B]) Parameters() []*Parameter[B] {
	return nil
}
