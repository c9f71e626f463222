// Package ops defines the recorded operations and their backward rules for
// reverse-mode automatic differentiation.
package ops

import "github.com/revnet-ml/revnet/internal/tensor"

// Operation is a single recorded tensor operation.
//
// During the backward pass the tape calls Backward with the gradient of the
// loss with respect to the operation's output; the operation returns the
// gradients with respect to each input, in input order. A nil entry means no
// gradient flows to that input (e.g. integer index tensors).
type Operation interface {
	// Backward computes input gradients given the output gradient.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors of this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor of this operation.
	Output() *tensor.RawTensor
}

// MultiOutputOperation is an operation with more than one output (e.g. Split).
// The tape collects the gradients of every output before calling BackwardMulti.
type MultiOutputOperation interface {
	Operation

	// Outputs returns all output tensors of this operation.
	Outputs() []*tensor.RawTensor

	// BackwardMulti computes input gradients given one gradient per output.
	// Missing output gradients are zero-filled by the tape.
	BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor
}
