package nn

import (
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Parameter represents a trainable parameter.
//
// The gradient is accumulated across backward passes until ZeroGrad is
// called, so a parameter shared by several reversible steps collects
// contributions from each of them.
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
	grad   *tensor.Tensor[float32, B]
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Grad returns the accumulated gradient, or nil before any backward pass.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// AccumGrad adds g into the accumulated gradient.
func (p *Parameter[B]) AccumGrad(g *tensor.Tensor[float32, B]) {
	if p.grad == nil {
		p.grad = g.Clone()
		return
	}
	p.grad = p.grad.Add(g)
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}
