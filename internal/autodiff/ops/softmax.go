package ops

import "github.com/revnet-ml/revnet/internal/tensor"

// SoftmaxOp records output = softmax(x, dim).
//
// With w = softmax(x), the pullback is:
//
//	grad_x = w * (grad - sum(w * grad, dim, keepdim))
type SoftmaxOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor
	dim    int
}

// NewSoftmaxOp creates a new SoftmaxOp. dim must be the resolved
// (non-negative) dimension used in the forward pass.
func NewSoftmaxOp(x, output *tensor.RawTensor, dim int) *SoftmaxOp {
	return &SoftmaxOp{inputs: []*tensor.RawTensor{x}, output: output, dim: dim}
}

// Backward computes the softmax pullback from the saved output.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	w := op.output
	dot := backend.SumDim(backend.Mul(w, outputGrad), op.dim, true)
	return []*tensor.RawTensor{backend.Mul(w, backend.Sub(outputGrad, dot))}
}

// Inputs returns [x].
func (op *SoftmaxOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns softmax(x, dim).
func (op *SoftmaxOp) Output() *tensor.RawTensor { return op.output }

// LogSoftmaxOp records output = log(softmax(x, dim)).
//
//	grad_x = grad - softmax(x) * sum(grad, dim, keepdim)
type LogSoftmaxOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor
	dim    int
}

// NewLogSoftmaxOp creates a new LogSoftmaxOp with a resolved dim.
func NewLogSoftmaxOp(x, output *tensor.RawTensor, dim int) *LogSoftmaxOp {
	return &LogSoftmaxOp{inputs: []*tensor.RawTensor{x}, output: output, dim: dim}
}

// Backward computes the log-softmax pullback. softmax is recovered as
// exp(output) rather than recomputed from x.
func (op *LogSoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	soft := backend.Exp(op.output)
	gradSum := backend.SumDim(outputGrad, op.dim, true)
	return []*tensor.RawTensor{backend.Sub(outputGrad, backend.Mul(soft, gradSum))}
}

// Inputs returns [x].
func (op *LogSoftmaxOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns log-softmax(x, dim).
func (op *LogSoftmaxOp) Output() *tensor.RawTensor { return op.output }
