package cpu

import (
	"math"

	"github.com/revnet-ml/revnet/internal/tensor"
)

// Exp computes e^x element-wise.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("exp", x, func(v float32) float32 {
		return float32(math.Exp(float64(v)))
	})
}

// Log computes the natural logarithm element-wise.
func (cpu *CPUBackend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("log", x, func(v float32) float32 {
		return float32(math.Log(float64(v)))
	})
}

// Sqrt computes the square root element-wise.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("sqrt", x, func(v float32) float32 {
		return float32(math.Sqrt(float64(v)))
	})
}

// Rsqrt computes 1/sqrt(x) element-wise.
func (cpu *CPUBackend) Rsqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("rsqrt", x, func(v float32) float32 {
		return float32(1.0 / math.Sqrt(float64(v)))
	})
}

// Tanh computes the hyperbolic tangent element-wise.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("tanh", x, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

// geluCoeff is sqrt(2/pi) for the tanh approximation of GELU.
const geluCoeff = 0.7978845608028654

// Gelu computes the Gaussian error linear unit (tanh approximation):
//
//	gelu(x) = 0.5 * x * (1 + tanh(sqrt(2/pi) * (x + 0.044715 * x^3)))
func (cpu *CPUBackend) Gelu(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("gelu", x, func(v float32) float32 {
		return geluF32(v)
	})
}

func geluF32(v float32) float32 {
	x := float64(v)
	return float32(0.5 * x * (1 + math.Tanh(geluCoeff*(x+0.044715*x*x*x))))
}
