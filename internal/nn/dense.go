package nn

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Dense implements a fully connected layer: y = x @ W.T + b.
//
// The weight has shape [out_features, in_features] and the bias
// [out_features]. Inputs may have any leading dimensions; the last dimension
// must equal in_features:
//
//	[..., in_features] -> [..., out_features]
//
// Weights use Xavier/Glorot initialization, biases start at zero.
type Dense[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B]
	backend     B
}

// NewDense creates a new Dense layer, drawing initial weights from r.
func NewDense[B tensor.Backend](inFeatures, outFeatures int, r *rng.RNG, backend B) *Dense[B] {
	weightTensor := XavierUniform(inFeatures, outFeatures,
		tensor.Shape{outFeatures, inFeatures}, r, backend)
	biasTensor := tensor.Zeros[float32](tensor.Shape{outFeatures}, backend)

	return &Dense[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", weightTensor),
		bias:        NewParameter("bias", biasTensor),
		backend:     backend,
	}
}

// Forward computes y = x @ W.T + b over the last dimension.
func (l *Dense[B]) Forward(x *tensor.Tensor[float32, B], _ *rng.RNG) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) < 1 || shape[len(shape)-1] != l.inFeatures {
		panic(fmt.Sprintf("Dense.Forward: expected input [..., %d], got shape %v", l.inFeatures, shape))
	}

	// Flatten leading dimensions so a single matmul covers any rank.
	rows := x.NumElements() / l.inFeatures
	flat := x.Reshape(rows, l.inFeatures)

	out := flat.MatMul(l.weight.Tensor().T())
	out = out.Add(l.bias.Tensor().Reshape(1, l.outFeatures))

	outShape := shape.Clone()
	outShape[len(outShape)-1] = l.outFeatures
	return out.Reshape(outShape...)
}

// Parameters returns [weight, bias].
func (l *Dense[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.weight, l.bias}
}

// Weight returns the weight parameter.
func (l *Dense[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter.
func (l *Dense[B]) Bias() *Parameter[B] {
	return l.bias
}
