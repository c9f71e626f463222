package reversible_test

import (
	"errors"
	"testing"

	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/reversible"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// denseChain builds nBlocks of HalfResidual(Dense) + Swap.
func denseChain(backend adB, d, nBlocks int, seed uint64) *reversible.Chain[adB] {
	keys := rng.New(seed).Split(nBlocks)
	var steps []reversible.Step[adB]
	for i := 0; i < nBlocks; i++ {
		steps = append(steps,
			reversible.NewHalfResidual[adB](nn.NewDense(d, d, keys[i], backend), backend),
			reversible.NewSwap[adB](),
		)
	}
	return reversible.NewChain(steps...)
}

func TestChainForwardReverseRoundtrip(t *testing.T) {
	backend := newBackend()
	chain := denseChain(backend, 4, 3, 1)

	in := reversible.Pair[adB]{
		S1: randTensor(2, tensor.Shape{2, 3, 4}, backend),
		S2: randTensor(3, tensor.Shape{2, 3, 4}, backend),
	}
	out, err := chain.Forward(in, rng.New(7))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	recon, err := chain.Reverse(out, rng.New(7))
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	checkClose(t, "stream 1", recon.S1.Data(), in.S1.Data(), 1e-3)
	checkClose(t, "stream 2", recon.S2.Data(), in.S2.Data(), 1e-3)
}

func TestChainCallerInputSurvives(t *testing.T) {
	backend := newBackend()
	// Starting with a Swap makes the caller's streams pass through the first
	// intermediate pair, the case the release logic must not free.
	chain := reversible.NewChain[adB](
		reversible.NewSwap[adB](),
		reversible.NewHalfResidual[adB](nn.NewDense(4, 4, rng.New(1), backend), backend),
		reversible.NewSwap[adB](),
		reversible.NewHalfResidual[adB](nn.NewDense(4, 4, rng.New(2), backend), backend),
	)

	in := reversible.Pair[adB]{
		S1: randTensor(2, tensor.Shape{1, 2, 4}, backend),
		S2: randTensor(3, tensor.Shape{1, 2, 4}, backend),
	}
	saved1 := append([]float32(nil), in.S1.Data()...)
	saved2 := append([]float32(nil), in.S2.Data()...)

	if _, err := chain.Forward(in, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	checkClose(t, "stream 1 intact", in.S1.Data(), saved1, 0)
	checkClose(t, "stream 2 intact", in.S2.Data(), saved2, 0)
}

func TestChainBackward(t *testing.T) {
	backend := newBackend()
	chain := denseChain(backend, 4, 2, 1)

	x1 := randTensor(2, tensor.Shape{1, 3, 4}, backend)
	x2 := randTensor(3, tensor.Shape{1, 3, 4}, backend)
	ct1 := randTensor(4, tensor.Shape{1, 3, 4}, backend)
	ct2 := randTensor(5, tensor.Shape{1, 3, 4}, backend)

	out, err := chain.Forward(reversible.Pair[adB]{S1: x1, S2: x2}, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// Reference: record the whole chain step by step on one tape.
	refOuts, refPullback := backend.VJP(func() []*tensor.RawTensor {
		cur := reversible.Pair[adB]{S1: x1, S2: x2}
		for _, step := range chain.Steps() {
			next, ferr := step.Forward(cur, nil)
			if ferr != nil {
				t.Fatalf("recorded Forward: %v", ferr)
			}
			cur = next
		}
		return []*tensor.RawTensor{cur.S1.Raw(), cur.S2.Raw()}
	})
	checkClose(t, "recorded s1", refOuts[0].AsFloat32(), out.S1.Data(), 1e-5)
	checkClose(t, "recorded s2", refOuts[1].AsFloat32(), out.S2.Data(), 1e-5)
	refGrads := refPullback([]*tensor.RawTensor{ct1.Raw(), ct2.Raw()})

	in, inGrad, err := chain.Backward(out, reversible.Pair[adB]{S1: ct1, S2: ct2}, nil)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	checkClose(t, "reconstructed x1", in.S1.Data(), x1.Data(), 1e-3)
	checkClose(t, "reconstructed x2", in.S2.Data(), x2.Data(), 1e-3)
	checkClose(t, "gx1", inGrad.S1.Data(), refGrads[x1.Raw()].AsFloat32(), 1e-3)
	checkClose(t, "gx2", inGrad.S2.Data(), refGrads[x2.Raw()].AsFloat32(), 1e-3)

	for _, p := range chain.Parameters() {
		ref := refGrads[p.Tensor().Raw()]
		if ref == nil {
			t.Errorf("parameter %s missing from the reference gradients", p.Name())
			continue
		}
		if p.Grad() == nil {
			t.Errorf("parameter %s has no gradient", p.Name())
			continue
		}
		checkClose(t, "param "+p.Name(), p.Grad().Data(), ref.AsFloat32(), 1e-3)
	}
}

func TestChainBackwardShapeMismatch(t *testing.T) {
	backend := newBackend()
	chain := denseChain(backend, 4, 1, 1)

	out := reversible.Pair[adB]{
		S1: randTensor(1, tensor.Shape{1, 2, 4}, backend),
		S2: randTensor(2, tensor.Shape{1, 2, 4}, backend),
	}
	grad := reversible.Pair[adB]{
		S1: randTensor(3, tensor.Shape{1, 3, 4}, backend),
		S2: randTensor(4, tensor.Shape{1, 3, 4}, backend),
	}
	_, _, err := chain.Backward(out, grad, nil)
	var shapeErr *reversible.ShapeMismatchError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("got %v, want ShapeMismatchError", err)
	}
}

func TestChainPeakLivePairsConstantInDepth(t *testing.T) {
	backend := newBackend()
	shallow := denseChain(backend, 4, 2, 1)
	deep := denseChain(backend, 4, 12, 2)

	run := func(c *reversible.Chain[adB]) (int, int) {
		in := reversible.Pair[adB]{
			S1: randTensor(3, tensor.Shape{1, 2, 4}, backend),
			S2: randTensor(4, tensor.Shape{1, 2, 4}, backend),
		}
		out, err := c.Forward(in, nil)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		fwdPeak := c.Stats().PeakLivePairs

		grad := reversible.Pair[adB]{
			S1: randTensor(5, tensor.Shape{1, 2, 4}, backend),
			S2: randTensor(6, tensor.Shape{1, 2, 4}, backend),
		}
		if _, _, err := c.Backward(out, grad, nil); err != nil {
			t.Fatalf("Backward: %v", err)
		}
		return fwdPeak, c.Stats().PeakLivePairs
	}

	shallowFwd, shallowBwd := run(shallow)
	deepFwd, deepBwd := run(deep)

	if deepFwd != shallowFwd {
		t.Errorf("forward peak grew with depth: %d vs %d", deepFwd, shallowFwd)
	}
	if deepBwd != shallowBwd {
		t.Errorf("backward peak grew with depth: %d vs %d", deepBwd, shallowBwd)
	}
	if deepFwd > 3 {
		t.Errorf("forward peak %d, want at most 3", deepFwd)
	}
	if deepBwd > 6 {
		t.Errorf("backward peak %d, want at most 6", deepBwd)
	}
}

// countingStep is a stateful no-op: it counts its forward executions and
// snapshots the count for the ledger.
type countingStep struct {
	calls int
}

func (s *countingStep) Forward(p reversible.Pair[adB], _ *rng.RNG) (reversible.Pair[adB], error) {
	s.calls++
	return p, nil
}

func (s *countingStep) Reverse(p reversible.Pair[adB], _ *rng.RNG) (reversible.Pair[adB], error) {
	return p, nil
}

func (s *countingStep) ReverseAndGrad(out, grad reversible.Pair[adB], _ *rng.RNG) (reversible.Pair[adB], reversible.Pair[adB], error) {
	return out, grad, nil
}

func (s *countingStep) Parameters() []*nn.Parameter[adB] { return nil }

func (s *countingStep) State() any { return s.calls }

func (s *countingStep) RestoreState(state any) { s.calls = state.(int) }

func TestChainStatefulLedger(t *testing.T) {
	backend := newBackend()
	counter := &countingStep{}
	chain := reversible.NewChain[adB](
		reversible.NewHalfResidual[adB](nn.NewDense(4, 4, rng.New(1), backend), backend),
		counter,
	)

	in := reversible.Pair[adB]{
		S1: randTensor(2, tensor.Shape{1, 2, 4}, backend),
		S2: randTensor(3, tensor.Shape{1, 2, 4}, backend),
	}
	out, err := chain.Forward(in, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if counter.calls != 1 {
		t.Fatalf("calls = %d, want 1", counter.calls)
	}

	grad := reversible.Pair[adB]{
		S1: randTensor(4, tensor.Shape{1, 2, 4}, backend),
		S2: randTensor(5, tensor.Shape{1, 2, 4}, backend),
	}
	if _, _, err := chain.Backward(out, grad, nil); err != nil {
		t.Fatalf("Backward: %v", err)
	}
	// The ledger restored the pre-forward count.
	if counter.calls != 0 {
		t.Errorf("calls after restore = %d, want 0", counter.calls)
	}

	// A second backward pass has no snapshot to consume.
	_, _, err = chain.Backward(out, grad, nil)
	var stateErr *reversible.StateMismatchError
	if !errors.As(err, &stateErr) {
		t.Fatalf("got %v, want StateMismatchError", err)
	}
	if stateErr.Recorded != -1 {
		t.Errorf("Recorded = %d, want -1", stateErr.Recorded)
	}
}
