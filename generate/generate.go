// Copyright 2025 RevNet ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package generate provides autoregressive text generation on top of a
// ReformerLM.
//
// Example:
//
//	sampler := generate.NewSampler(generate.DefaultSamplingConfig())
//	gen := generate.NewGenerator(model, sampler, eos, backend)
//	tokens, err := gen.Generate(ctx, prompt, 32, rng.New(7))
package generate

import (
	"github.com/revnet-ml/revnet/internal/generate"
	"github.com/revnet-ml/revnet/internal/reformer"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// SamplingConfig configures how the next token is drawn.
type SamplingConfig = generate.SamplingConfig

// DefaultSamplingConfig returns plain temperature-1 sampling.
func DefaultSamplingConfig() SamplingConfig {
	return generate.DefaultSamplingConfig()
}

// Sampler draws tokens from log-probability rows.
type Sampler = generate.Sampler

// NewSampler creates a sampler.
func NewSampler(cfg SamplingConfig) *Sampler {
	return generate.NewSampler(cfg)
}

// Generator produces token continuations from a ReformerLM.
type Generator[B tensor.Backend] = generate.Generator[B]

// NewGenerator creates a generator.
func NewGenerator[B tensor.Backend](model *reformer.ReformerLM[B], sampler *Sampler, eos int32, backend B) *Generator[B] {
	return generate.NewGenerator(model, sampler, eos, backend)
}
