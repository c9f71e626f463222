// Package autodiff implements reverse-mode automatic differentiation using
// the decorator pattern.
//
// AutodiffBackend wraps any Backend implementation and adds gradient
// tracking through a GradientTape:
//   - Decorator pattern: AutodiffBackend[B] wraps any Backend implementation
//   - GradientTape: records operations during the forward pass
//   - Operation interface: each op carries its own backward rule
//   - VJP: scoped record-then-pull-back primitive for vector-Jacobian products
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	outs, pullback := backend.VJP(func() []*tensor.RawTensor {
//	    y := backend.Mul(x, x)
//	    return []*tensor.RawTensor{y}
//	})
//	grads := pullback([]*tensor.RawTensor{ct})
//	dx := grads[x] // d(x*x)/dx * ct
package autodiff

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/autodiff/ops"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements tensor.Backend and records operations in a GradientTape.
type AutodiffBackend[B tensor.Backend] struct {
	inner        B
	tape         *GradientTape
	allowNonDiff bool // permit non-float tensors inside a recorded region
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the current gradient tape.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend[B]) Device() tensor.Device {
	return b.inner.Device()
}

// checkRecordable reports whether the current operation should be recorded,
// panicking if a non-float tensor enters a recorded region without
// AllowNonDifferentiable.
func (b *AutodiffBackend[B]) checkRecordable(name string, inputs ...*tensor.RawTensor) bool {
	if !b.tape.IsRecording() {
		return false
	}
	if b.allowNonDiff {
		return true
	}
	for _, in := range inputs {
		if !in.DType().IsFloat() {
			panic(fmt.Sprintf(
				"%s: %s tensor inside a recorded region; pass autodiff.AllowNonDifferentiable() to VJP if intended",
				name, in.DType()))
		}
	}
	return true
}

// Add performs element-wise addition and records the operation.
//
// Inputs are pinned with ForceNonUnique for the duration of the call: an
// in-place update would corrupt tensors that recorded operations still
// reference.
func (b *AutodiffBackend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Add(x, y)
	if b.checkRecordable("add", x, y) {
		b.tape.Record(ops.NewAddOp(x, y, result))
	}
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Sub(x, y)
	if b.checkRecordable("sub", x, y) {
		b.tape.Record(ops.NewSubOp(x, y, result))
	}
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Mul(x, y)
	if b.checkRecordable("mul", x, y) {
		b.tape.Record(ops.NewMulOp(x, y, result))
	}
	return result
}

// Div performs element-wise division and records the operation.
func (b *AutodiffBackend[B]) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Div(x, y)
	if b.checkRecordable("div", x, y) {
		b.tape.Record(ops.NewDivOp(x, y, result))
	}
	return result
}

// AddScalar adds a scalar to every element and records the operation.
func (b *AutodiffBackend[B]) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.AddScalar(x, scalar)
	if b.checkRecordable("addscalar", x) {
		b.tape.Record(ops.NewAddScalarOp(x, result))
	}
	return result
}

// MulScalar multiplies every element by a scalar and records the operation.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.MulScalar(x, scalar)
	if b.checkRecordable("mulscalar", x) {
		b.tape.Record(ops.NewMulScalarOp(x, result, scalarToFloat32(scalar)))
	}
	return result
}

func scalarToFloat32(scalar any) float32 {
	switch v := scalar.(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	case int:
		return float32(v)
	case int32:
		return float32(v)
	case int64:
		return float32(v)
	default:
		panic(fmt.Sprintf("unsupported scalar type %T", scalar))
	}
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.MatMul(x, y)
	if b.checkRecordable("matmul", x, y) {
		b.tape.Record(ops.NewMatMulOp(x, y, result))
	}
	return result
}

// BatchMatMul performs batched matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) BatchMatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.BatchMatMul(x, y)
	if b.checkRecordable("batchmatmul", x, y) {
		b.tape.Record(ops.NewBatchMatMulOp(x, y, result))
	}
	return result
}

// Reshape reshapes a tensor and records the operation, so gradients reach
// the pre-reshape tensor.
func (b *AutodiffBackend[B]) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Reshape(x, newShape)
	if b.checkRecordable("reshape", x) {
		b.tape.Record(ops.NewReshapeOp(x, result))
	}
	return result
}

// Transpose permutes dimensions and records the operation.
func (b *AutodiffBackend[B]) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	// Resolve default axes here so the recorded op can invert them.
	ndim := len(x.Shape())
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	result := b.inner.Transpose(x, axes...)
	if b.checkRecordable("transpose", x) {
		b.tape.Record(ops.NewTransposeOp(x, result, axes))
	}
	return result
}

// Unsqueeze inserts a size-1 dimension and records it as a reshape.
func (b *AutodiffBackend[B]) Unsqueeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Unsqueeze(x, dim)
	if b.checkRecordable("unsqueeze", x) {
		b.tape.Record(ops.NewReshapeOp(x, result))
	}
	return result
}

// Squeeze removes a size-1 dimension and records it as a reshape.
func (b *AutodiffBackend[B]) Squeeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Squeeze(x, dim)
	if b.checkRecordable("squeeze", x) {
		b.tape.Record(ops.NewReshapeOp(x, result))
	}
	return result
}

// Exp computes e^x element-wise and records the operation.
func (b *AutodiffBackend[B]) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Exp(x)
	if b.checkRecordable("exp", x) {
		b.tape.Record(ops.NewExpOp(x, result))
	}
	return result
}

// Log computes the natural logarithm element-wise and records the operation.
func (b *AutodiffBackend[B]) Log(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Log(x)
	if b.checkRecordable("log", x) {
		b.tape.Record(ops.NewLogOp(x, result))
	}
	return result
}

// Sqrt computes the square root element-wise and records the operation.
func (b *AutodiffBackend[B]) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Sqrt(x)
	if b.checkRecordable("sqrt", x) {
		b.tape.Record(ops.NewSqrtOp(x, result))
	}
	return result
}

// Rsqrt computes 1/sqrt(x) element-wise and records the operation.
func (b *AutodiffBackend[B]) Rsqrt(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Rsqrt(x)
	if b.checkRecordable("rsqrt", x) {
		b.tape.Record(ops.NewRsqrtOp(x, result))
	}
	return result
}

// Tanh computes tanh element-wise and records the operation.
func (b *AutodiffBackend[B]) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Tanh(x)
	if b.checkRecordable("tanh", x) {
		b.tape.Record(ops.NewTanhOp(x, result))
	}
	return result
}

// Gelu computes the GELU activation and records the operation.
func (b *AutodiffBackend[B]) Gelu(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Gelu(x)
	if b.checkRecordable("gelu", x) {
		b.tape.Record(ops.NewGeluOp(x, result))
	}
	return result
}

// Softmax computes softmax along dim and records the operation.
func (b *AutodiffBackend[B]) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	dim = x.Shape().Normalize(dim)
	result := b.inner.Softmax(x, dim)
	if b.checkRecordable("softmax", x) {
		b.tape.Record(ops.NewSoftmaxOp(x, result, dim))
	}
	return result
}

// LogSoftmax computes log-softmax along dim and records the operation.
func (b *AutodiffBackend[B]) LogSoftmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	dim = x.Shape().Normalize(dim)
	result := b.inner.LogSoftmax(x, dim)
	if b.checkRecordable("logsoftmax", x) {
		b.tape.Record(ops.NewLogSoftmaxOp(x, result, dim))
	}
	return result
}

// Sum reduces to a scalar and records the operation.
func (b *AutodiffBackend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Sum(x)
	if b.checkRecordable("sum", x) {
		b.tape.Record(ops.NewSumOp(x, result))
	}
	return result
}

// SumDim sums along a dimension and records the operation.
func (b *AutodiffBackend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	dim = x.Shape().Normalize(dim)
	result := b.inner.SumDim(x, dim, keepDim)
	if b.checkRecordable("sumdim", x) {
		b.tape.Record(ops.NewSumDimOp(x, result, dim, keepDim))
	}
	return result
}

// MeanDim computes the mean along a dimension and records the operation.
func (b *AutodiffBackend[B]) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	dim = x.Shape().Normalize(dim)
	result := b.inner.MeanDim(x, dim, keepDim)
	if b.checkRecordable("meandim", x) {
		b.tape.Record(ops.NewMeanDimOp(x, result, dim, keepDim))
	}
	return result
}

// Cat concatenates tensors and records the operation.
func (b *AutodiffBackend[B]) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	for _, t := range tensors {
		defer t.ForceNonUnique()()
	}

	result := b.inner.Cat(tensors, dim)
	if b.checkRecordable("cat", tensors...) {
		dim = result.Shape().Normalize(dim)
		b.tape.Record(ops.NewCatOp(tensors, result, dim))
	}
	return result
}

// Split splits a tensor into equal parts and records the multi-output
// operation.
func (b *AutodiffBackend[B]) Split(x *tensor.RawTensor, n, dim int) []*tensor.RawTensor {
	defer x.ForceNonUnique()()

	dim = x.Shape().Normalize(dim)
	parts := b.inner.Split(x, n, dim)
	if b.checkRecordable("split", x) {
		b.tape.Record(ops.NewSplitOp(x, parts, dim))
	}
	return parts
}

// Embedding looks up embedding rows and records the operation. The integer
// index tensor is only legal inside a recorded region when the VJP was
// created with AllowNonDifferentiable.
func (b *AutodiffBackend[B]) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	defer weight.ForceNonUnique()()
	defer indices.ForceNonUnique()()

	result := b.inner.Embedding(weight, indices)
	if b.checkRecordable("embedding", weight, indices) {
		b.tape.Record(ops.NewEmbeddingOp(weight, indices, result))
	}
	return result
}
