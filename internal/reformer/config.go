// Package reformer assembles reversible decoder blocks into a language
// model whose training memory stays flat in the number of layers.
package reformer

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/nn"
)

// Config describes a ReformerLM.
type Config struct {
	VocabSize int // token vocabulary size
	DModel    int // residual stream width
	DFF       int // feed-forward hidden width
	NHeads    int // attention heads
	NLayers   int // decoder blocks
	MaxLen    int // longest supported sequence

	Dropout          float32 // dropout on embeddings and feed-forward layers
	AttentionDropout float32 // dropout on attention weights

	// AttentionBins > 0 selects binned causal attention with that many
	// bins per sequence; 0 selects full dot-product attention.
	AttentionBins int

	// ShareQK ties the query and key projections.
	ShareQK bool

	// FFChunks > 1 applies the feed-forward block to the sequence in
	// chunks, bounding its working memory.
	FFChunks int

	// NSections cuts the output head's work into sections along the
	// sequence so the full logits tensor is never materialized at once.
	NSections int

	// Train enables dropout.
	Train bool
}

// Validate checks the configuration, returning a ConfigurationError for
// the first invalid field.
func (c Config) Validate() error {
	bad := func(field, format string, args ...any) error {
		return &nn.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case c.VocabSize < 1:
		return bad("VocabSize", "must be positive, got %d", c.VocabSize)
	case c.DModel < 1:
		return bad("DModel", "must be positive, got %d", c.DModel)
	case c.DFF < 1:
		return bad("DFF", "must be positive, got %d", c.DFF)
	case c.NHeads < 1:
		return bad("NHeads", "must be positive, got %d", c.NHeads)
	case c.DModel%c.NHeads != 0:
		return bad("NHeads", "DModel %d must be divisible by NHeads %d", c.DModel, c.NHeads)
	case c.NLayers < 1:
		return bad("NLayers", "must be positive, got %d", c.NLayers)
	case c.MaxLen < 1:
		return bad("MaxLen", "must be positive, got %d", c.MaxLen)
	case c.Dropout < 0 || c.Dropout >= 1:
		return bad("Dropout", "must be in [0, 1), got %v", c.Dropout)
	case c.AttentionDropout < 0 || c.AttentionDropout >= 1:
		return bad("AttentionDropout", "must be in [0, 1), got %v", c.AttentionDropout)
	case c.AttentionBins < 0:
		return bad("AttentionBins", "must not be negative, got %d", c.AttentionBins)
	case c.FFChunks < 1:
		return bad("FFChunks", "must be at least 1, got %d", c.FFChunks)
	case c.NSections < 1:
		return bad("NSections", "must be at least 1, got %d", c.NSections)
	}
	return nil
}
