// Package reversible implements reversible residual steps and the chain
// that runs them with constant activation memory.
//
// A step maps a pair of activation streams to a pair of activation streams
// and can invert that map: the backward pass reconstructs each step's input
// from its output instead of keeping it alive, so a chain of any depth
// holds only a bounded number of pairs at a time.
package reversible

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/tensor"
)

// ConfigurationError reports an invalid configuration value.
type ConfigurationError = nn.ConfigurationError

// DivisibilityError reports a dimension that cannot be partitioned evenly.
type DivisibilityError = nn.DivisibilityError

// ShapeMismatchError reports tensors whose shapes do not line up for an
// operation, such as a cotangent that does not match its activation.
type ShapeMismatchError struct {
	Op   string
	Want tensor.Shape
	Got  tensor.Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %v, got %v", e.Op, e.Want, e.Got)
}

// StateMismatchError reports a backward pass whose position in the chain
// does not line up with the state recorded during the forward pass.
type StateMismatchError struct {
	Step     int // step the backward pass is restoring
	Recorded int // step the ledger entry was recorded for, -1 when absent
}

func (e *StateMismatchError) Error() string {
	if e.Recorded < 0 {
		return fmt.Sprintf("no recorded state for step %d; run Forward before Backward", e.Step)
	}
	return fmt.Sprintf("recorded state belongs to step %d but backward pass is at step %d", e.Recorded, e.Step)
}
