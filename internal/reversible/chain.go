package reversible

import (
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// ledgerEntry is one snapshot of a stateful step, tagged with the step
// index it was taken for.
type ledgerEntry struct {
	step  int
	state any
}

// Ledger records the state of stateful steps during the forward pass so the
// backward pass can restore each step before re-executing it. Entries are
// pushed in forward order and consumed in reverse; a pop whose step index
// does not match the recorded one is an ordering bug and is reported
// rather than silently reusing the wrong snapshot.
type Ledger struct {
	entries []ledgerEntry
}

func (l *Ledger) reset() {
	l.entries = l.entries[:0]
}

func (l *Ledger) push(step int, state any) {
	l.entries = append(l.entries, ledgerEntry{step: step, state: state})
}

func (l *Ledger) pop(step int) (any, error) {
	if len(l.entries) == 0 {
		return nil, &StateMismatchError{Step: step, Recorded: -1}
	}
	top := l.entries[len(l.entries)-1]
	if top.step != step {
		return nil, &StateMismatchError{Step: step, Recorded: top.step}
	}
	l.entries = l.entries[:len(l.entries)-1]
	return top.state, nil
}

// Len returns the number of snapshots currently held.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// ChainStats reports memory behavior of the most recent pass.
type ChainStats struct {
	// PeakLivePairs is the largest number of activation pairs alive at
	// once. Reversibility keeps it constant in the chain depth.
	PeakLivePairs int
}

// Chain runs a sequence of reversible steps.
//
// Intermediate pairs are released as soon as the next step has produced its
// output, so a forward pass over any number of steps keeps a bounded number
// of activations alive. The backward pass starts from the final pair only
// and reconstructs inputs step by step via ReverseAndGrad.
//
// Each step receives a key derived from the pass key and the step index.
// Forward, Reverse and Backward derive identical keys, which is what makes
// re-execution replay the forward pass exactly.
type Chain[B tensor.Backend] struct {
	steps  []Step[B]
	ledger Ledger
	stats  ChainStats
}

// NewChain creates a chain over the given steps.
func NewChain[B tensor.Backend](steps ...Step[B]) *Chain[B] {
	return &Chain[B]{steps: steps}
}

// Steps returns the contained steps.
func (c *Chain[B]) Steps() []Step[B] {
	return c.steps
}

// Stats returns memory statistics for the most recent pass.
func (c *Chain[B]) Stats() ChainStats {
	return c.stats
}

// Parameters returns the parameters of all steps.
func (c *Chain[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, s := range c.steps {
		params = append(params, s.Parameters()...)
	}
	return params
}

// releasePair frees the streams of a pair the chain owns, skipping any
// stream that still backs one of the keep pairs. Steps routinely pass a
// stream through untouched, so aliasing is the common case, not the
// exception.
func releasePair[B tensor.Backend](old Pair[B], keep ...Pair[B]) {
	kept := func(raw *tensor.RawTensor) bool {
		for _, p := range keep {
			if raw == p.S1.Raw() || raw == p.S2.Raw() {
				return true
			}
		}
		return false
	}
	if !kept(old.S1.Raw()) {
		old.S1.Release()
	}
	if old.S2.Raw() != old.S1.Raw() && !kept(old.S2.Raw()) {
		old.S2.Release()
	}
}

// Forward runs all steps in order. The input pair belongs to the caller and
// is left alive; every intermediate pair is released once its successor
// exists.
func (c *Chain[B]) Forward(p Pair[B], r *rng.RNG) (Pair[B], error) {
	c.ledger.reset()
	keys := stepKeys(r, len(c.steps))

	live, peak := 1, 1
	cur := p
	for i, step := range c.steps {
		if s, ok := step.(Stateful); ok {
			c.ledger.push(i, s.State())
		}
		next, err := step.Forward(cur, keyAt(keys, i))
		if err != nil {
			return Pair[B]{}, err
		}
		live++
		if live > peak {
			peak = live
		}
		if i > 0 {
			// Guard against streams still aliased by the successor or by
			// the caller's input pair.
			releasePair(cur, next, p)
			live--
		}
		cur = next
	}
	c.stats = ChainStats{PeakLivePairs: peak}
	return cur, nil
}

// Reverse reconstructs the chain's input from its output without computing
// gradients. Stateful steps are restored from the ledger as in Backward.
func (c *Chain[B]) Reverse(p Pair[B], r *rng.RNG) (Pair[B], error) {
	keys := stepKeys(r, len(c.steps))

	cur := p
	for i := len(c.steps) - 1; i >= 0; i-- {
		if err := c.restoreState(i); err != nil {
			return Pair[B]{}, err
		}
		prev, err := c.steps[i].Reverse(cur, keyAt(keys, i))
		if err != nil {
			return Pair[B]{}, err
		}
		if i < len(c.steps)-1 {
			releasePair(cur, prev, p)
		}
		cur = prev
	}
	return cur, nil
}

// Backward runs ReverseAndGrad across all steps in reverse order, starting
// from the final pair and its cotangent alone. It returns the
// reconstructed input pair and the cotangent with respect to it; parameter
// gradients accumulate on the steps' parameters as a side effect.
func (c *Chain[B]) Backward(out, grad Pair[B], r *rng.RNG) (Pair[B], Pair[B], error) {
	if !out.matches(grad) {
		return Pair[B]{}, Pair[B]{}, &ShapeMismatchError{Op: "Chain.Backward", Want: out.S1.Shape(), Got: grad.S1.Shape()}
	}
	keys := stepKeys(r, len(c.steps))

	live, peak := 2, 2
	curOut, curGrad := out, grad
	for i := len(c.steps) - 1; i >= 0; i-- {
		if err := c.restoreState(i); err != nil {
			return Pair[B]{}, Pair[B]{}, err
		}
		prevOut, prevGrad, err := c.steps[i].ReverseAndGrad(curOut, curGrad, keyAt(keys, i))
		if err != nil {
			return Pair[B]{}, Pair[B]{}, err
		}
		live += 2
		if live > peak {
			peak = live
		}
		if i < len(c.steps)-1 {
			releasePair(curOut, prevOut, prevGrad, out, grad)
			releasePair(curGrad, prevOut, prevGrad, out, grad)
			live -= 2
		}
		curOut, curGrad = prevOut, prevGrad
	}
	c.stats = ChainStats{PeakLivePairs: peak}
	return curOut, curGrad, nil
}

func (c *Chain[B]) restoreState(i int) error {
	s, ok := c.steps[i].(Stateful)
	if !ok {
		return nil
	}
	state, err := c.ledger.pop(i)
	if err != nil {
		return err
	}
	s.RestoreState(state)
	return nil
}

// stepKeys derives one key per step from the pass key.
func stepKeys(r *rng.RNG, n int) []*rng.RNG {
	if r == nil {
		return nil
	}
	return r.Split(n)
}

func keyAt(keys []*rng.RNG, i int) *rng.RNG {
	if keys == nil {
		return nil
	}
	return keys[i]
}
