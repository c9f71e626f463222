package reformer

import (
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/reversible"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// newAttention builds the configured attention variant.
func newAttention[B tensor.Backend](cfg Config, backend B) (nn.CausalAttention[B], error) {
	if cfg.AttentionBins > 0 {
		return nn.NewTimeBinCausalAttention(cfg.AttentionBins, cfg.AttentionDropout, cfg.Train, backend)
	}
	return nn.NewDotProductCausalAttention(cfg.AttentionDropout, cfg.Train, backend)
}

// NewDecoderBlock builds one decoder block as four reversible steps:
// attention on one stream, swap, feed-forward on the other stream, swap.
// The swaps keep the pair balanced so both streams are updated once per
// block.
func NewDecoderBlock[B tensor.Backend](cfg Config, r *rng.RNG, backend B) ([]reversible.Step[B], error) {
	keys := r.Split(3)

	pre, err := nn.NewQKVProjection(cfg.DModel, cfg.NHeads, cfg.ShareQK, keys[0], backend)
	if err != nil {
		return nil, err
	}
	att, err := newAttention(cfg, backend)
	if err != nil {
		return nil, err
	}
	post := nn.NewAttentionOutput(cfg.DModel, cfg.NHeads, keys[1], backend)

	ff, err := nn.NewFeedForward(cfg.DModel, cfg.DFF, cfg.Dropout, cfg.Train, keys[2], backend)
	if err != nil {
		return nil, err
	}
	var ffLayer nn.Layer[B] = ff
	if cfg.FFChunks > 1 {
		chunked, err := reversible.NewChunkedApply[B](ff, cfg.FFChunks)
		if err != nil {
			return nil, err
		}
		ffLayer = chunked
	}

	return []reversible.Step[B]{
		reversible.NewAttentionHalfResidual(pre, att, post, backend),
		reversible.NewSwap[B](),
		reversible.NewHalfResidual(ffLayer, backend),
		reversible.NewSwap[B](),
	}, nil
}
