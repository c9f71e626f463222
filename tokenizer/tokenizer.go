// Copyright 2025 RevNet ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tokenizer provides text tokenization for language models.
//
// Example:
//
//	tok, err := tokenizer.NewTikToken(tokenizer.EncodingP50kBase)
//	ids, err := tok.Encode("hello world")
//	text, err := tok.Decode(ids)
package tokenizer

import "github.com/revnet-ml/revnet/internal/tokenizer"

// Tokenizer is the interface tokenizer implementations satisfy.
type Tokenizer = tokenizer.Tokenizer

// TikToken wraps the pkoukk/tiktoken-go library.
type TikToken = tokenizer.TikToken

// Known encoding names.
const (
	EncodingCL100kBase = tokenizer.EncodingCL100kBase
	EncodingP50kBase   = tokenizer.EncodingP50kBase
	EncodingR50kBase   = tokenizer.EncodingR50kBase
)

// NewTikToken creates a tokenizer for the named encoding.
func NewTikToken(encodingName string) (*TikToken, error) {
	return tokenizer.NewTikToken(encodingName)
}
