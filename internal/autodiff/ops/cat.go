package ops

import "github.com/revnet-ml/revnet/internal/tensor"

// CatOp records output = cat(inputs, dim). The backward pass slices the
// gradient back into one piece per input.
type CatOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	dim    int
}

// NewCatOp creates a new CatOp with a resolved dim.
func NewCatOp(inputs []*tensor.RawTensor, output *tensor.RawTensor, dim int) *CatOp {
	return &CatOp{inputs: inputs, output: output, dim: dim}
}

// Backward slices the output gradient along dim at the input boundaries.
// Inputs may have different sizes along dim, so this cannot reuse Split.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	outShape := op.output.Shape()

	inner := 1
	for i := op.dim + 1; i < len(outShape); i++ {
		inner *= outShape[i]
	}
	outer := 1
	for i := 0; i < op.dim; i++ {
		outer *= outShape[i]
	}
	srcRow := outShape[op.dim] * inner

	src := outputGrad.AsFloat32()
	grads := make([]*tensor.RawTensor, len(op.inputs))
	offset := 0
	for j, in := range op.inputs {
		grad := zerosLike(in)
		dst := grad.AsFloat32()
		row := in.Shape()[op.dim] * inner
		for o := 0; o < outer; o++ {
			copy(dst[o*row:(o+1)*row], src[o*srcRow+offset:o*srcRow+offset+row])
		}
		offset += row
		grads[j] = grad
	}
	return grads
}

// Inputs returns the concatenated tensors.
func (op *CatOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the concatenated result.
func (op *CatOp) Output() *tensor.RawTensor { return op.output }
