package nn

import (
	"math"

	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// XavierUniform initializes a tensor with Xavier/Glorot uniform values,
// drawing from the given random stream.
func XavierUniform[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, r *rng.RNG, b B) *tensor.Tensor[float32, B] {
	t := tensor.Zeros[float32](shape, b)
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))

	data := t.Data()
	for i := range data {
		data[i] = (r.Float32()*2 - 1) * limit
	}
	return t
}

// RandomNormal initializes a tensor with scaled normal values.
func RandomNormal[B tensor.Backend](shape tensor.Shape, stddev float32, r *rng.RNG, b B) *tensor.Tensor[float32, B] {
	t := tensor.Zeros[float32](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = float32(r.Normal()) * stddev
	}
	return t
}
