package autodiff

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/tensor"
)

// Pullback maps cotangents of a VJP's outputs to a gradient per input
// tensor. Tensors the recorded computation never touched are absent from
// the result.
type Pullback func(outputGrads []*tensor.RawTensor) map[*tensor.RawTensor]*tensor.RawTensor

// VJPOption configures a VJP call.
type VJPOption func(*vjpConfig)

type vjpConfig struct {
	allowNonDiff bool
}

// AllowNonDifferentiable permits non-float tensors (integer indices, masks)
// inside the recorded region. Gradients do not flow through them; without
// this option their presence is treated as a programming error.
func AllowNonDifferentiable() VJPOption {
	return func(c *vjpConfig) {
		c.allowNonDiff = true
	}
}

// VJP evaluates f while recording on a fresh tape and returns f's outputs
// together with a pullback that computes the vector-Jacobian product.
//
// The recording is scoped: any enclosing tape is saved and restored, so VJP
// calls nest, and nothing f does leaks onto the caller's tape. The pullback
// may be invoked at most until the returned output tensors are released.
//
// Example:
//
//	outs, pullback := backend.VJP(func() []*tensor.RawTensor {
//	    return []*tensor.RawTensor{layer.Forward(x)}
//	})
//	grads := pullback([]*tensor.RawTensor{ct})
func (b *AutodiffBackend[B]) VJP(f func() []*tensor.RawTensor, opts ...VJPOption) ([]*tensor.RawTensor, Pullback) {
	var cfg vjpConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	prevTape, prevAllow := b.tape, b.allowNonDiff
	tape := NewGradientTape()
	b.tape = tape
	b.allowNonDiff = cfg.allowNonDiff
	tape.StartRecording()

	outputs := f()

	tape.StopRecording()
	b.tape, b.allowNonDiff = prevTape, prevAllow

	pullback := func(outputGrads []*tensor.RawTensor) map[*tensor.RawTensor]*tensor.RawTensor {
		if len(outputGrads) != len(outputs) {
			panic(fmt.Sprintf("pullback: got %d cotangents for %d outputs", len(outputGrads), len(outputs)))
		}
		seeds := make(map[*tensor.RawTensor]*tensor.RawTensor, len(outputs))
		for i, out := range outputs {
			if outputGrads[i] == nil {
				continue
			}
			if !out.Shape().Equal(outputGrads[i].Shape()) {
				panic(fmt.Sprintf("pullback: cotangent %d shape %v does not match output shape %v",
					i, outputGrads[i].Shape(), out.Shape()))
			}
			// Clone so in-place gradient accumulation cannot touch the
			// caller's cotangent.
			seeds[out] = outputGrads[i].Clone()
		}
		return tape.BackwardFrom(seeds, b)
	}

	return outputs, pullback
}
