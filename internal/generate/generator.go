package generate

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/revnet-ml/revnet/internal/reformer"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Generator produces token continuations from a ReformerLM.
type Generator[B tensor.Backend] struct {
	model   *reformer.ReformerLM[B]
	sampler *Sampler
	backend B
	eos     int32 // stop token, -1 to disable
}

// NewGenerator creates a generator. eos stops generation early when
// sampled; pass -1 to always run to the token limit.
func NewGenerator[B tensor.Backend](model *reformer.ReformerLM[B], sampler *Sampler, eos int32, backend B) *Generator[B] {
	return &Generator[B]{model: model, sampler: sampler, backend: backend, eos: eos}
}

// Generate extends prompt by up to maxNew tokens. Each step draws a fresh
// key pair for the forward pass and the sampler, so a given (prompt, seed)
// always yields the same continuation.
func (g *Generator[B]) Generate(ctx context.Context, prompt []int32, maxNew int, r *rng.RNG) ([]int32, error) {
	if len(prompt) == 0 {
		return nil, errors.New("empty prompt")
	}
	maxLen := g.model.Config().MaxLen
	stepKeys := r.Split(maxNew)

	tokens := append([]int32(nil), prompt...)
	for step := 0; step < maxNew; step++ {
		if err := ctx.Err(); err != nil {
			return tokens, err
		}
		if len(tokens)+1 > maxLen {
			klog.V(1).Infof("generate: stopping at context limit %d", maxLen)
			break
		}

		// The model shifts ids right internally, so a placeholder last
		// token makes the final output row predict the next token without
		// influencing the computation.
		ids := append(append([]int32(nil), tokens...), 0)
		input, err := tensor.FromSlice(ids, tensor.Shape{1, len(ids)}, g.backend)
		if err != nil {
			return tokens, err
		}

		keys := stepKeys[step].Split(2)
		logProbs, err := g.model.Forward(input, keys[0])
		if err != nil {
			return tokens, errors.Wrapf(err, "generate step %d", step)
		}

		vocab := logProbs.Shape()[2]
		data := logProbs.Data()
		last := data[(len(ids)-1)*vocab : len(ids)*vocab]

		next := g.sampler.Sample(last, keys[1])
		klog.V(2).Infof("generate: step %d sampled token %d", step, next)
		tokens = append(tokens, next)
		if g.eos >= 0 && next == g.eos {
			break
		}
	}
	return tokens, nil
}
