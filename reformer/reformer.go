// Copyright 2025 RevNet ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package reformer provides a decoder-only language model built from
// reversible blocks, so its training memory stays flat in the number of
// layers.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	cfg := reformer.Config{
//	    VocabSize: 1000, DModel: 64, DFF: 128, NHeads: 4,
//	    NLayers: 2, MaxLen: 512, FFChunks: 1, NSections: 1,
//	}
//	model, err := reformer.NewReformerLM(cfg, 42, backend)
//	logProbs, err := model.Forward(ids, rng.New(1))
package reformer

import (
	"github.com/revnet-ml/revnet/internal/reformer"
	"github.com/revnet-ml/revnet/internal/reversible"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Config describes a ReformerLM.
type Config = reformer.Config

// ReformerLM is the reversible decoder-only language model.
type ReformerLM[B tensor.Backend] = reformer.ReformerLM[B]

// NewReformerLM builds a model from cfg, drawing all initial weights from
// the seed.
func NewReformerLM[B tensor.Backend](cfg Config, seed uint64, backend B) (*ReformerLM[B], error) {
	return reformer.NewReformerLM(cfg, seed, backend)
}

// NewDecoderBlock builds one decoder block as reversible steps.
func NewDecoderBlock[B tensor.Backend](cfg Config, r *rng.RNG, backend B) ([]reversible.Step[B], error) {
	return reformer.NewDecoderBlock(cfg, r, backend)
}
