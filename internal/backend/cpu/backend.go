// Package cpu implements the pure-Go CPU backend.
package cpu

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/tensor"
)

// CPUBackend implements tensor operations on the CPU.
type CPUBackend struct {
	device tensor.Device
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("div", a, b, func(x, y float32) float32 { return x / y })
}

// binaryOp implements the shared fast/inplace/broadcast dispatch for the
// element-wise binary operations.
func (cpu *CPUBackend) binaryOp(name string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtypes %s, %s", name, a.DType(), b.DType()))
	}

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	if !needsBroadcast && a.Shape().Equal(b.Shape()) {
		// Fast path: same shape, run in place when a is exclusively owned.
		if a.IsUnique() {
			ad, bd := a.AsFloat32(), b.AsFloat32()
			for i := range ad {
				ad[i] = f(ad[i], bd[i])
			}
			return a
		}

		result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
		if err != nil {
			panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
		}
		rd, ad, bd := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
		for i := range rd {
			rd[i] = f(ad[i], bd[i])
		}
		return result
	}

	// Slow path: broadcasting required.
	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}
	broadcastBinary(result, a, b, outShape, f)
	return result
}

// broadcastBinary evaluates f over the broadcast iteration space.
func broadcastBinary(result, a, b *tensor.RawTensor, outShape tensor.Shape, f func(x, y float32) float32) {
	rd, ad, bd := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
	outStrides := outShape.ComputeStrides()
	aIdx := newBroadcastIndexer(a.Shape(), outShape)
	bIdx := newBroadcastIndexer(b.Shape(), outShape)

	for i := range rd {
		rd[i] = f(ad[aIdx.at(i, outStrides)], bd[bIdx.at(i, outStrides)])
	}
}

// broadcastIndexer maps flat output indices to flat input indices for a shape
// broadcast against outShape.
type broadcastIndexer struct {
	strides []int // per output dimension; 0 where the input dimension is 1
}

func newBroadcastIndexer(inShape, outShape tensor.Shape) broadcastIndexer {
	inStrides := inShape.ComputeStrides()
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(inShape)
	for i := range outShape {
		if i < offset {
			continue // missing input dimension behaves as size 1
		}
		if inShape[i-offset] != 1 {
			strides[i] = inStrides[i-offset]
		}
	}
	return broadcastIndexer{strides: strides}
}

func (bi broadcastIndexer) at(flat int, outStrides []int) int {
	idx := 0
	for d, s := range outStrides {
		coord := flat / s
		flat %= s
		idx += coord * bi.strides[d]
	}
	return idx
}

// AddScalar adds a scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	s := toFloat32(scalar)
	return cpu.unaryOp("addscalar", x, func(v float32) float32 { return v + s })
}

// MulScalar multiplies every element by a scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	s := toFloat32(scalar)
	return cpu.unaryOp("mulscalar", x, func(v float32) float32 { return v * s })
}

func toFloat32(scalar any) float32 {
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

// unaryOp applies f element-wise, in place when x is exclusively owned.
func (cpu *CPUBackend) unaryOp(name string, x *tensor.RawTensor, f func(float32) float32) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	if x.IsUnique() {
		xd := x.AsFloat32()
		for i := range xd {
			xd[i] = f(xd[i])
		}
		return x
	}

	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}
	rd, xd := result.AsFloat32(), x.AsFloat32()
	for i := range rd {
		rd[i] = f(xd[i])
	}
	return result
}
