// Package generate provides autoregressive sampling on top of the model.
package generate

import (
	"math"
	"sort"

	"github.com/revnet-ml/revnet/internal/rng"
)

// SamplingConfig configures how the next token is drawn from the model's
// log-probabilities.
type SamplingConfig struct {
	// Temperature controls randomness. 0 selects the argmax.
	Temperature float32

	// TopK limits sampling to the K most likely tokens. 0 disables.
	TopK int

	// TopP limits sampling to the smallest set of tokens whose cumulative
	// probability reaches P. 1.0 disables.
	TopP float32
}

// DefaultSamplingConfig returns plain temperature-1 sampling.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{Temperature: 1.0, TopP: 1.0}
}

// Sampler draws tokens from log-probability rows.
type Sampler struct {
	cfg SamplingConfig
}

// NewSampler creates a sampler.
func NewSampler(cfg SamplingConfig) *Sampler {
	return &Sampler{cfg: cfg}
}

// Sample draws one token id from a [vocab] row of log-probabilities,
// consuming a single uniform value from r.
func (s *Sampler) Sample(logProbs []float32, r *rng.RNG) int32 {
	if s.cfg.Temperature == 0 {
		return argmax(logProbs)
	}

	probs := make([]float64, len(logProbs))
	maxLP := float32(math.Inf(-1))
	for _, lp := range logProbs {
		if lp > maxLP {
			maxLP = lp
		}
	}
	for i, lp := range logProbs {
		probs[i] = math.Exp(float64((lp - maxLP) / s.cfg.Temperature))
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})

	keep := len(order)
	if s.cfg.TopK > 0 && s.cfg.TopK < keep {
		keep = s.cfg.TopK
	}

	total := 0.0
	for _, idx := range order[:keep] {
		total += probs[idx]
	}
	if s.cfg.TopP > 0 && s.cfg.TopP < 1 {
		cum, cut := 0.0, keep
		for i, idx := range order[:keep] {
			cum += probs[idx] / total
			if cum >= float64(s.cfg.TopP) {
				cut = i + 1
				break
			}
		}
		keep = cut
		total = 0
		for _, idx := range order[:keep] {
			total += probs[idx]
		}
	}

	u := r.Float64() * total
	cum := 0.0
	for _, idx := range order[:keep] {
		cum += probs[idx]
		if u < cum {
			return int32(idx)
		}
	}
	return int32(order[keep-1])
}

func argmax(values []float32) int32 {
	best, bestVal := 0, float32(math.Inf(-1))
	for i, v := range values {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return int32(best)
}
