// Copyright 2025 RevNet ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package reversible provides reversible residual steps and the chain that
// runs them with constant activation memory.
//
// The backward pass reconstructs each step's input from its output instead
// of storing activations, so training memory does not grow with depth.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	chain := reversible.NewChain(
//	    reversible.NewHalfResidual[*autodiff.Backend[*cpu.Backend]](ff, backend),
//	    reversible.NewSwap[*autodiff.Backend[*cpu.Backend]](),
//	)
//	out, err := chain.Forward(reversible.NewPair(x), r)
package reversible

import (
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/reversible"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Pair is the two-stream activation a reversible step operates on.
type Pair[B tensor.Backend] = reversible.Pair[B]

// NewPair duplicates x into a pair.
func NewPair[B tensor.Backend](x *tensor.Tensor[float32, B]) Pair[B] {
	return reversible.NewPair(x)
}

// Step is one invertible link of a reversible chain.
type Step[B tensor.Backend] = reversible.Step[B]

// Stateful is implemented by steps carrying mutable state that the chain
// snapshots and restores around the backward pass.
type Stateful = reversible.Stateful

// HalfResidual applies a residual function to one stream and adds the
// result onto the other.
type HalfResidual[B tensor.Backend] = reversible.HalfResidual[B]

// NewHalfResidual wraps a residual function.
func NewHalfResidual[B tensor.Backend](f nn.Layer[B], backend B) *HalfResidual[B] {
	return reversible.NewHalfResidual(f, backend)
}

// AttentionHalfResidual is the attention form of HalfResidual with a fused
// reverse-and-gradient pass.
type AttentionHalfResidual[B tensor.Backend] = reversible.AttentionHalfResidual[B]

// NewAttentionHalfResidual assembles the step from its projection and
// attention parts.
func NewAttentionHalfResidual[B tensor.Backend](pre *nn.QKVProjection[B], att nn.CausalAttention[B], post *nn.AttentionOutput[B], backend B) *AttentionHalfResidual[B] {
	return reversible.NewAttentionHalfResidual(pre, att, post, backend)
}

// Swap exchanges the two streams.
type Swap[B tensor.Backend] = reversible.Swap[B]

// NewSwap creates a Swap step.
func NewSwap[B tensor.Backend]() *Swap[B] {
	return reversible.NewSwap[B]()
}

// Chain runs a sequence of reversible steps with bounded live activations.
type Chain[B tensor.Backend] = reversible.Chain[B]

// ChainStats reports memory behavior of the most recent pass.
type ChainStats = reversible.ChainStats

// NewChain creates a chain over the given steps.
func NewChain[B tensor.Backend](steps ...Step[B]) *Chain[B] {
	return reversible.NewChain(steps...)
}

// SplitForOutput converts the pair leaving a chain into sections for the
// output head.
type SplitForOutput[B tensor.Backend] = reversible.SplitForOutput[B]

// NewSplitForOutput creates the layer.
func NewSplitForOutput[B tensor.Backend](nSections int) (*SplitForOutput[B], error) {
	return reversible.NewSplitForOutput[B](nSections)
}

// ChunkedApply runs a position-wise layer over the sequence one chunk at a
// time.
type ChunkedApply[B tensor.Backend] = reversible.ChunkedApply[B]

// NewChunkedApply wraps inner.
func NewChunkedApply[B tensor.Backend](inner nn.Layer[B], nChunks int) (*ChunkedApply[B], error) {
	return reversible.NewChunkedApply[B](inner, nChunks)
}

// Chunk folds the sequence dimension into the batch.
func Chunk[B tensor.Backend](x *tensor.Tensor[float32, B], n int) (*tensor.Tensor[float32, B], error) {
	return reversible.Chunk(x, n)
}

// Unchunk is the inverse of Chunk.
func Unchunk[B tensor.Backend](x *tensor.Tensor[float32, B], n int) (*tensor.Tensor[float32, B], error) {
	return reversible.Unchunk(x, n)
}

// Error types

// ConfigurationError reports an invalid configuration value.
type ConfigurationError = reversible.ConfigurationError

// DivisibilityError reports a dimension that cannot be partitioned evenly.
type DivisibilityError = reversible.DivisibilityError

// ShapeMismatchError reports tensors whose shapes do not line up.
type ShapeMismatchError = reversible.ShapeMismatchError

// StateMismatchError reports a backward pass out of step with the recorded
// forward state.
type StateMismatchError = reversible.StateMismatchError

// VJPBackend is the gradient-recording capability reversible steps require.
type VJPBackend = reversible.VJPBackend

// RequireVJP asserts that the backend can record gradients.
func RequireVJP(backend any) (VJPBackend, error) {
	return reversible.RequireVJP(backend)
}
