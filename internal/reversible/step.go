package reversible

import (
	"github.com/revnet-ml/revnet/internal/autodiff"
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Step is one invertible link of a reversible chain.
//
// Forward and Reverse are exact inverses given the same random key: any
// stochastic decision a step makes must be a pure function of the key, so
// the backward pass can re-execute the forward computation bit for bit.
//
// ReverseAndGrad combines inversion with gradient propagation: given a
// step's output pair and the cotangent of that output, it reconstructs the
// input pair, returns the cotangent of the input, and accumulates parameter
// gradients on the step's parameters.
type Step[B tensor.Backend] interface {
	Forward(p Pair[B], r *rng.RNG) (Pair[B], error)
	Reverse(p Pair[B], r *rng.RNG) (Pair[B], error)
	ReverseAndGrad(out, grad Pair[B], r *rng.RNG) (in, inGrad Pair[B], err error)
	Parameters() []*nn.Parameter[B]
}

// Stateful is implemented by steps carrying mutable state. The chain
// snapshots the state before each forward execution and restores it before
// the backward pass re-executes the step.
type Stateful interface {
	State() any
	RestoreState(state any)
}

// VJPBackend is the capability a step needs to differentiate through its
// residual function. Plain compute backends do not provide it; wrapping
// them in autodiff.New does.
type VJPBackend interface {
	VJP(f func() []*tensor.RawTensor, opts ...autodiff.VJPOption) ([]*tensor.RawTensor, autodiff.Pullback)
}

// RequireVJP asserts that the backend can record gradients.
func RequireVJP(backend any) (VJPBackend, error) {
	b, ok := backend.(VJPBackend)
	if !ok {
		return nil, &ConfigurationError{
			Field:  "backend",
			Reason: "gradient computation requires an autodiff-capable backend; wrap it with autodiff.New",
		}
	}
	return b, nil
}

// accumParamGrads adds the gradients a pullback produced onto the matching
// parameters. Parameters the recorded computation never touched are
// skipped.
func accumParamGrads[B tensor.Backend](params []*nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor, backend B) {
	for _, p := range params {
		if g, ok := grads[p.Tensor().Raw()]; ok && g != nil {
			p.AccumGrad(tensor.New[float32, B](g, backend))
		}
	}
}
