package ops

import "github.com/revnet-ml/revnet/internal/tensor"

// EmbeddingOp records output = weight[indices]. The weight gradient is a
// scatter-add of the output gradient; the integer indices get no gradient.
type EmbeddingOp struct {
	inputs []*tensor.RawTensor // [weight, indices]
	output *tensor.RawTensor
}

// NewEmbeddingOp creates a new EmbeddingOp.
func NewEmbeddingOp(weight, indices, output *tensor.RawTensor) *EmbeddingOp {
	return &EmbeddingOp{inputs: []*tensor.RawTensor{weight, indices}, output: output}
}

// Backward scatter-adds the output gradient into the weight rows that were
// looked up. Rows selected multiple times accumulate.
func (op *EmbeddingOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	weight, indices := op.inputs[0], op.inputs[1]
	dim := weight.Shape()[1]

	grad := zerosLike(weight)
	gd, od := grad.AsFloat32(), outputGrad.AsFloat32()
	for i, idx := range indices.AsInt32() {
		row := gd[int(idx)*dim : (int(idx)+1)*dim]
		src := od[i*dim : (i+1)*dim]
		for j := range row {
			row[j] += src[j]
		}
	}

	return []*tensor.RawTensor{grad, nil}
}

// Inputs returns [weight, indices].
func (op *EmbeddingOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the looked-up embeddings.
func (op *EmbeddingOp) Output() *tensor.RawTensor { return op.output }
