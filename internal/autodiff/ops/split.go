package ops

import "github.com/revnet-ml/revnet/internal/tensor"

// SplitOp records outputs = split(x, n, dim). This is a multi-output
// operation: the backward pass concatenates the per-part gradients.
type SplitOp struct {
	inputs  []*tensor.RawTensor // [x]
	outputs []*tensor.RawTensor
	dim     int
}

// NewSplitOp creates a new SplitOp with a resolved dim.
func NewSplitOp(x *tensor.RawTensor, outputs []*tensor.RawTensor, dim int) *SplitOp {
	return &SplitOp{inputs: []*tensor.RawTensor{x}, outputs: outputs, dim: dim}
}

// Backward is implemented via BackwardMulti; the tape never calls this for
// multi-output operations.
func (op *SplitOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return op.BackwardMulti([]*tensor.RawTensor{outputGrad}, backend)
}

// BackwardMulti concatenates the per-part gradients along the split dim.
func (op *SplitOp) BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Cat(outputGrads, op.dim)}
}

// Inputs returns [x].
func (op *SplitOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the first part; use Outputs for all of them.
func (op *SplitOp) Output() *tensor.RawTensor { return op.outputs[0] }

// Outputs returns every split part.
func (op *SplitOp) Outputs() []*tensor.RawTensor { return op.outputs }
