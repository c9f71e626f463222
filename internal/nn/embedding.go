package nn

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// Embedding maps integer token ids to dense vectors by table lookup.
//
// The table has shape [vocab_size, d_model] and is initialized from a scaled
// normal distribution.
type Embedding[B tensor.Backend] struct {
	vocabSize int
	dModel    int
	weight    *Parameter[B]
	backend   B
}

// NewEmbedding creates an embedding table, drawing initial weights from r.
func NewEmbedding[B tensor.Backend](vocabSize, dModel int, r *rng.RNG, backend B) *Embedding[B] {
	weight := RandomNormal(tensor.Shape{vocabSize, dModel}, 0.02, r, backend)
	return &Embedding[B]{
		vocabSize: vocabSize,
		dModel:    dModel,
		weight:    NewParameter("weight", weight),
		backend:   backend,
	}
}

// ForwardIDs looks up embeddings for a batch of token ids.
//
//	[batch, seq] int32 -> [batch, seq, d_model] float32
func (l *Embedding[B]) ForwardIDs(ids *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	if len(ids.Shape()) != 2 {
		panic(fmt.Sprintf("Embedding.ForwardIDs: expected [batch, seq] ids, got shape %v", ids.Shape()))
	}
	return tensor.Embedding(l.weight.Tensor(), ids)
}

// Parameters returns [weight].
func (l *Embedding[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.weight}
}

// Weight returns the embedding table parameter.
func (l *Embedding[B]) Weight() *Parameter[B] {
	return l.weight
}
