package ops

import (
	"math"

	"github.com/revnet-ml/revnet/internal/tensor"
)

// ExpOp records output = e^x. d(e^x)/dx = e^x = output.
type ExpOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor
}

// NewExpOp creates a new ExpOp.
func NewExpOp(x, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{inputs: []*tensor.RawTensor{x}, output: output}
}

// Backward computes grad * e^x using the saved output.
func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, op.output)}
}

// Inputs returns [x].
func (op *ExpOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns e^x.
func (op *ExpOp) Output() *tensor.RawTensor { return op.output }

// LogOp records output = ln(x). d(ln x)/dx = 1/x.
type LogOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor
}

// NewLogOp creates a new LogOp.
func NewLogOp(x, output *tensor.RawTensor) *LogOp {
	return &LogOp{inputs: []*tensor.RawTensor{x}, output: output}
}

// Backward computes grad / x.
func (op *LogOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(outputGrad, op.inputs[0])}
}

// Inputs returns [x].
func (op *LogOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns ln(x).
func (op *LogOp) Output() *tensor.RawTensor { return op.output }

// SqrtOp records output = sqrt(x). d(sqrt x)/dx = 1/(2*sqrt(x)) = 1/(2*output).
type SqrtOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor
}

// NewSqrtOp creates a new SqrtOp.
func NewSqrtOp(x, output *tensor.RawTensor) *SqrtOp {
	return &SqrtOp{inputs: []*tensor.RawTensor{x}, output: output}
}

// Backward computes grad / (2 * sqrt(x)).
func (op *SqrtOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(outputGrad, backend.MulScalar(op.output, float32(2)))}
}

// Inputs returns [x].
func (op *SqrtOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns sqrt(x).
func (op *SqrtOp) Output() *tensor.RawTensor { return op.output }

// RsqrtOp records output = 1/sqrt(x). d/dx = -0.5 * x^(-3/2) = -0.5 * output^3.
type RsqrtOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor
}

// NewRsqrtOp creates a new RsqrtOp.
func NewRsqrtOp(x, output *tensor.RawTensor) *RsqrtOp {
	return &RsqrtOp{inputs: []*tensor.RawTensor{x}, output: output}
}

// Backward computes grad * -0.5 * output^3.
func (op *RsqrtOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	cubed := backend.Mul(backend.Mul(op.output, op.output), op.output)
	return []*tensor.RawTensor{backend.Mul(outputGrad, backend.MulScalar(cubed, float32(-0.5)))}
}

// Inputs returns [x].
func (op *RsqrtOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns 1/sqrt(x).
func (op *RsqrtOp) Output() *tensor.RawTensor { return op.output }

// TanhOp records output = tanh(x). d(tanh x)/dx = 1 - tanh(x)^2.
type TanhOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor
}

// NewTanhOp creates a new TanhOp.
func NewTanhOp(x, output *tensor.RawTensor) *TanhOp {
	return &TanhOp{inputs: []*tensor.RawTensor{x}, output: output}
}

// Backward computes grad * (1 - output^2).
func (op *TanhOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	oneMinusSq := backend.AddScalar(negate(backend.Mul(op.output, op.output), backend), float32(1))
	return []*tensor.RawTensor{backend.Mul(outputGrad, oneMinusSq)}
}

// Inputs returns [x].
func (op *TanhOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns tanh(x).
func (op *TanhOp) Output() *tensor.RawTensor { return op.output }

// GeluOp records output = gelu(x) using the tanh approximation.
type GeluOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor
}

// NewGeluOp creates a new GeluOp.
func NewGeluOp(x, output *tensor.RawTensor) *GeluOp {
	return &GeluOp{inputs: []*tensor.RawTensor{x}, output: output}
}

// Backward evaluates the analytic derivative of the tanh approximation at
// the saved input.
func (op *GeluOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	grad := zerosLike(x)

	xd, gd, od := x.AsFloat32(), grad.AsFloat32(), outputGrad.AsFloat32()
	for i := range xd {
		gd[i] = od[i] * geluDeriv(xd[i])
	}
	return []*tensor.RawTensor{grad}
}

// Inputs returns [x].
func (op *GeluOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns gelu(x).
func (op *GeluOp) Output() *tensor.RawTensor { return op.output }

const geluCoeff = 0.7978845608028654 // sqrt(2/pi)

func geluDeriv(v float32) float32 {
	x := float64(v)
	inner := geluCoeff * (x + 0.044715*x*x*x)
	t := math.Tanh(inner)
	sech2 := 1 - t*t
	dInner := geluCoeff * (1 + 3*0.044715*x*x)
	return float32(0.5*(1+t) + 0.5*x*sech2*dInner)
}
