// Copyright 2025 RevNet ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides automatic differentiation capabilities.
//
// This package implements reverse-mode automatic differentiation using a
// gradient tape. It wraps any backend to add gradient recording, and
// exposes VJP as the scoped record-then-pull-back primitive reversible
// layers build on.
//
// Example:
//
//	base := cpu.New()
//	backend := autodiff.New(base)
//
//	x := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//	outs, pullback := backend.VJP(func() []*tensor.RawTensor {
//	    return []*tensor.RawTensor{x.Mul(x).Raw()}
//	})
//	grads := pullback([]*tensor.RawTensor{ct.Raw()})
//	dx := grads[x.Raw()]
package autodiff

import (
	"github.com/revnet-ml/revnet/internal/autodiff"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Backend is the autodiff-enabled backend.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// New creates a new autodiff backend wrapping the given backend.
//
// Example:
//
//	base := cpu.New()
//	backend := autodiff.New(base)
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}

// Pullback maps cotangents of a VJP's outputs to gradients per input.
type Pullback = autodiff.Pullback

// VJPOption configures a VJP call.
type VJPOption = autodiff.VJPOption

// AllowNonDifferentiable permits non-float tensors (integer indices, masks)
// inside a recorded region.
func AllowNonDifferentiable() VJPOption {
	return autodiff.AllowNonDifferentiable()
}
