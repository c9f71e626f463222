// Copyright 2025 RevNet ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides neural network layers for the RevNet ML framework.
//
// Layers are generic over the compute backend and take an explicit random
// stream, so a layer invoked twice with the same key computes the same
// values. That property is what the reversible layers in package
// reversible build on.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	r := rng.New(42)
//	dense := nn.NewDense(64, 128, r, backend)
//	y := dense.Forward(x, nil)
package nn

import (
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Layer is the interface all layers implement.
type Layer[B tensor.Backend] = nn.Layer[B]

// Parameter represents a trainable parameter with an accumulated gradient.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// ConfigurationError reports an invalid layer or model configuration value.
type ConfigurationError = nn.ConfigurationError

// DivisibilityError reports a dimension that cannot be partitioned evenly.
type DivisibilityError = nn.DivisibilityError

// Dense is a fully connected layer: y = x @ W.T + b.
type Dense[B tensor.Backend] = nn.Dense[B]

// NewDense creates a new Dense layer, drawing initial weights from r.
func NewDense[B tensor.Backend](inFeatures, outFeatures int, r *rng.RNG, backend B) *Dense[B] {
	return nn.NewDense(inFeatures, outFeatures, r, backend)
}

// LayerNorm applies layer normalization along the last dimension.
type LayerNorm[B tensor.Backend] = nn.LayerNorm[B]

// NewLayerNorm creates a LayerNorm over the last dimension of size d.
func NewLayerNorm[B tensor.Backend](d int, epsilon float32, backend B) *LayerNorm[B] {
	return nn.NewLayerNorm(d, epsilon, backend)
}

// BroadcastedDropout drops activations with a mask broadcast along chosen
// dimensions.
type BroadcastedDropout[B tensor.Backend] = nn.BroadcastedDropout[B]

// NewBroadcastedDropout creates a dropout layer.
func NewBroadcastedDropout[B tensor.Backend](rate float32, active bool, backend B, broadcastDims ...int) (*BroadcastedDropout[B], error) {
	return nn.NewBroadcastedDropout(rate, active, backend, broadcastDims...)
}

// Embedding maps integer token ids to dense vectors.
type Embedding[B tensor.Backend] = nn.Embedding[B]

// NewEmbedding creates an embedding table.
func NewEmbedding[B tensor.Backend](vocabSize, dModel int, r *rng.RNG, backend B) *Embedding[B] {
	return nn.NewEmbedding(vocabSize, dModel, r, backend)
}

// PositionalEncoding adds fixed sinusoidal position signals.
type PositionalEncoding[B tensor.Backend] = nn.PositionalEncoding[B]

// NewPositionalEncoding builds the sinusoidal table for sequences up to
// maxLen tokens.
func NewPositionalEncoding[B tensor.Backend](dModel, maxLen int, backend B) *PositionalEncoding[B] {
	return nn.NewPositionalEncoding(dModel, maxLen, backend)
}

// Serial chains layers sequentially.
type Serial[B tensor.Backend] = nn.Serial[B]

// NewSerial creates a Serial container.
func NewSerial[B tensor.Backend](layers ...Layer[B]) *Serial[B] {
	return nn.NewSerial(layers...)
}

// Map applies one layer independently to each tensor in a slice.
type Map[B tensor.Backend] = nn.Map[B]

// NewMap creates a Map around inner.
func NewMap[B tensor.Backend](inner Layer[B], checkShapes bool) *Map[B] {
	return nn.NewMap(inner, checkShapes)
}

// NewFeedForward builds the standard transformer feed-forward block.
func NewFeedForward[B tensor.Backend](dModel, dFF int, dropout float32, train bool, r *rng.RNG, backend B) (*Serial[B], error) {
	return nn.NewFeedForward(dModel, dFF, dropout, train, r, backend)
}

// CausalAttention is the contract attention variants implement.
type CausalAttention[B tensor.Backend] = nn.CausalAttention[B]

// QKVProjection projects a stream into per-head queries, keys and values.
type QKVProjection[B tensor.Backend] = nn.QKVProjection[B]

// NewQKVProjection creates the projection block.
func NewQKVProjection[B tensor.Backend](dModel, nHeads int, shareQK bool, r *rng.RNG, backend B) (*QKVProjection[B], error) {
	return nn.NewQKVProjection(dModel, nHeads, shareQK, r, backend)
}

// AttentionOutput merges heads and applies the output projection.
type AttentionOutput[B tensor.Backend] = nn.AttentionOutput[B]

// NewAttentionOutput creates the output projection for nHeads heads.
func NewAttentionOutput[B tensor.Backend](dModel, nHeads int, r *rng.RNG, backend B) *AttentionOutput[B] {
	return nn.NewAttentionOutput(dModel, nHeads, r, backend)
}

// DotProductCausalAttention is scaled dot-product attention with a causal
// mask.
type DotProductCausalAttention[B tensor.Backend] = nn.DotProductCausalAttention[B]

// NewDotProductCausalAttention creates the attention op.
func NewDotProductCausalAttention[B tensor.Backend](rate float32, active bool, backend B) (*DotProductCausalAttention[B], error) {
	return nn.NewDotProductCausalAttention(rate, active, backend)
}

// TimeBinCausalAttention restricts attention to fixed time bins.
type TimeBinCausalAttention[B tensor.Backend] = nn.TimeBinCausalAttention[B]

// NewTimeBinCausalAttention creates the attention op.
func NewTimeBinCausalAttention[B tensor.Backend](nBins int, rate float32, active bool, backend B) (*TimeBinCausalAttention[B], error) {
	return nn.NewTimeBinCausalAttention(nBins, rate, active, backend)
}
