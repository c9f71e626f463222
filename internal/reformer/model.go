package reformer

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/revnet-ml/revnet/internal/autodiff"
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/reversible"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// ReformerLM is a decoder-only language model built from reversible blocks.
//
// The stem (embedding, dropout, positional encoding) and the output head
// run normally; everything between them is a reversible chain, so the
// backward pass reconstructs block activations instead of storing them.
type ReformerLM[B tensor.Backend] struct {
	cfg     Config
	backend B

	embed *nn.Embedding[B]
	drop  *nn.BroadcastedDropout[B]
	pos   *nn.PositionalEncoding[B]
	chain *reversible.Chain[B]
	split *reversible.SplitForOutput[B]
	head  *nn.Serial[B]
	headM *nn.Map[B]
}

// NewReformerLM builds the model from cfg, drawing all initial weights
// from the seed.
func NewReformerLM[B tensor.Backend](cfg Config, seed uint64, backend B) (*ReformerLM[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := rng.New(seed)
	keys := r.Split(3)

	embed := nn.NewEmbedding(cfg.VocabSize, cfg.DModel, keys[0], backend)
	drop, err := nn.NewBroadcastedDropout(cfg.Dropout, cfg.Train, backend)
	if err != nil {
		return nil, err
	}
	pos := nn.NewPositionalEncoding(cfg.DModel, cfg.MaxLen, backend)

	blockKeys := keys[1].Split(cfg.NLayers)
	var steps []reversible.Step[B]
	for i := 0; i < cfg.NLayers; i++ {
		block, err := NewDecoderBlock(cfg, blockKeys[i], backend)
		if err != nil {
			return nil, err
		}
		steps = append(steps, block...)
	}
	chain := reversible.NewChain(steps...)

	split, err := reversible.NewSplitForOutput[B](cfg.NSections)
	if err != nil {
		return nil, err
	}

	// The two streams are concatenated before the head, so it sees twice
	// the model width.
	headDrop, err := nn.NewBroadcastedDropout(cfg.Dropout, cfg.Train, backend)
	if err != nil {
		return nil, err
	}
	head := nn.NewSerial[B](
		nn.NewLayerNorm(2*cfg.DModel, 1e-6, backend),
		headDrop,
		nn.NewDense(2*cfg.DModel, cfg.VocabSize, keys[2], backend),
		nn.NewLogSoftmax[B](),
	)

	m := &ReformerLM[B]{
		cfg:     cfg,
		backend: backend,
		embed:   embed,
		drop:    drop,
		pos:     pos,
		chain:   chain,
		split:   split,
		head:    head,
		headM:   nn.NewMap[B](head, true),
	}
	klog.V(1).Infof("reformer: %d parameters in %d reversible steps", m.NumParameters(), len(steps))
	return m, nil
}

// Config returns the model configuration.
func (m *ReformerLM[B]) Config() Config {
	return m.cfg
}

// Chain returns the reversible trunk.
func (m *ReformerLM[B]) Chain() *reversible.Chain[B] {
	return m.chain
}

// Parameters returns all trainable parameters.
func (m *ReformerLM[B]) Parameters() []*nn.Parameter[B] {
	params := m.embed.Parameters()
	params = append(params, m.chain.Parameters()...)
	return append(params, m.head.Parameters()...)
}

// NumParameters returns the total number of trainable scalars.
func (m *ReformerLM[B]) NumParameters() int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}

func (m *ReformerLM[B]) checkIDs(ids *tensor.Tensor[int32, B]) error {
	shape := ids.Shape()
	if len(shape) != 2 {
		return errors.Errorf("ids must be [batch, seq], got shape %v", shape)
	}
	if shape[1] > m.cfg.MaxLen {
		return errors.Errorf("sequence length %d exceeds MaxLen %d", shape[1], m.cfg.MaxLen)
	}
	return nil
}

// shiftRight prepends a zero token to each sequence and drops the last one,
// aligning each position's prediction target with the next token.
func shiftRight[B tensor.Backend](ids *tensor.Tensor[int32, B], backend B) *tensor.Tensor[int32, B] {
	shape := ids.Shape()
	out := tensor.Zeros[int32](shape, backend)
	src, dst := ids.Data(), out.Data()
	seq := shape[1]
	for b := 0; b < shape[0]; b++ {
		copy(dst[b*seq+1:(b+1)*seq], src[b*seq:(b+1)*seq-1])
	}
	return out
}

// Forward computes log-probabilities over the vocabulary for every
// position:
//
//	[batch, seq] int32 -> [batch, seq, vocab] float32
//
// r must not be nil; the same key makes the pass deterministic, dropout
// included.
func (m *ReformerLM[B]) Forward(ids *tensor.Tensor[int32, B], r *rng.RNG) (*tensor.Tensor[float32, B], error) {
	if err := m.checkIDs(ids); err != nil {
		return nil, err
	}
	keys := r.Split(3)

	x := m.embed.ForwardIDs(shiftRight(ids, m.backend))
	x = m.drop.Forward(x, keys[0])
	x = m.pos.Forward(x, nil)

	outPair, err := m.chain.Forward(reversible.NewPair(x), keys[1])
	if err != nil {
		return nil, errors.Wrap(err, "reversible chain")
	}
	sections, err := m.split.Forward(outPair)
	if err != nil {
		return nil, errors.Wrap(err, "output split")
	}
	outs := m.headM.Forward(sections, keys[2])
	return tensor.Cat(outs, 1), nil
}

// ForwardBackward runs a full pass: forward to log-probabilities, lossGrad
// to obtain their cotangent, then backward through the head, the chain and
// the stem. Parameter gradients accumulate on the model's parameters.
//
// The chain portion of the backward pass reconstructs activations by
// inversion, so its memory use does not grow with NLayers.
func (m *ReformerLM[B]) ForwardBackward(
	ids *tensor.Tensor[int32, B],
	lossGrad func(logProbs *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B],
	r *rng.RNG,
) (*tensor.Tensor[float32, B], error) {
	if err := m.checkIDs(ids); err != nil {
		return nil, err
	}
	vb, err := reversible.RequireVJP(any(m.backend))
	if err != nil {
		return nil, err
	}
	keys := r.Split(3)
	shifted := shiftRight(ids, m.backend)

	// Stem: recorded so the embedding table receives its gradient. The
	// integer ids are legitimately non-differentiable.
	var x *tensor.Tensor[float32, B]
	_, stemPullback := vb.VJP(func() []*tensor.RawTensor {
		x = m.embed.ForwardIDs(shifted)
		x = m.drop.Forward(x, keys[0])
		x = m.pos.Forward(x, nil)
		return []*tensor.RawTensor{x.Raw()}
	}, autodiff.AllowNonDifferentiable())

	outPair, err := m.chain.Forward(reversible.NewPair(x), keys[1])
	if err != nil {
		return nil, errors.Wrap(err, "reversible chain")
	}
	sections, err := m.split.Forward(outPair)
	if err != nil {
		return nil, errors.Wrap(err, "output split")
	}

	// Head: one recording per section, mirroring the key derivation the
	// plain forward pass uses.
	headKeys := keys[2].Split(len(sections))
	outs := make([]*tensor.Tensor[float32, B], len(sections))
	pullbacks := make([]autodiff.Pullback, len(sections))
	for i := range sections {
		section, key := sections[i], headKeys[i]
		headOuts, pb := vb.VJP(func() []*tensor.RawTensor {
			return []*tensor.RawTensor{m.head.Forward(section, key).Raw()}
		})
		outs[i] = tensor.New[float32, B](headOuts[0], m.backend)
		pullbacks[i] = pb
	}
	logProbs := tensor.Cat(outs, 1)

	ct := lossGrad(logProbs)
	if !ct.Shape().Equal(logProbs.Shape()) {
		return nil, &reversible.ShapeMismatchError{Op: "ForwardBackward", Want: logProbs.Shape(), Got: ct.Shape()}
	}

	ctSections := ct.Split(len(sections), 1)
	headParams := m.head.Parameters()
	sectionGrads := make([]*tensor.Tensor[float32, B], len(sections))
	for i := range sections {
		grads := pullbacks[i]([]*tensor.RawTensor{ctSections[i].Raw()})
		sectionGrads[i] = tensor.New[float32, B](grads[sections[i].Raw()], m.backend)
		accumGrads(headParams, grads, m.backend)
	}

	_, pairGrad, err := m.split.ReverseAndGrad(sections, sectionGrads)
	if err != nil {
		return nil, errors.Wrap(err, "output split")
	}
	_, inGrad, err := m.chain.Backward(outPair, pairGrad, keys[1])
	if err != nil {
		return nil, errors.Wrap(err, "reversible chain")
	}

	// The pair entering the chain duplicated x, so x's cotangent is the
	// sum over both streams.
	gx := inGrad.S1.Add(inGrad.S2)
	stemGrads := stemPullback([]*tensor.RawTensor{gx.Raw()})
	accumGrads(m.embed.Parameters(), stemGrads, m.backend)

	return logProbs, nil
}

// ZeroGrads clears all accumulated parameter gradients.
func (m *ReformerLM[B]) ZeroGrads() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

func accumGrads[B tensor.Backend](params []*nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor, backend B) {
	for _, p := range params {
		if g, ok := grads[p.Tensor().Raw()]; ok && g != nil {
			p.AccumGrad(tensor.New[float32, B](g, backend))
		}
	}
}
