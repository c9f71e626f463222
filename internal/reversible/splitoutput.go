package reversible

import (
	"github.com/revnet-ml/revnet/internal/tensor"
)

// SplitForOutput converts the two-stream pair leaving a reversible chain
// into n sections along the sequence dimension, each carrying the
// concatenated features of both streams:
//
//	(x1, x2) [batch, seq, d] -> n sections [batch, seq/n, 2d]
//
// The output head is then applied to one section at a time, so the large
// [seq, vocab] logits never exist all at once. The map is a pure
// rearrangement, which keeps it exactly invertible and makes its gradient
// the same rearrangement run the other way.
type SplitForOutput[B tensor.Backend] struct {
	nSections int
}

// NewSplitForOutput creates the layer. Returns a ConfigurationError when
// nSections is not positive.
func NewSplitForOutput[B tensor.Backend](nSections int) (*SplitForOutput[B], error) {
	if nSections < 1 {
		return nil, &ConfigurationError{
			Field:  "nSections",
			Reason: "section count must be at least 1",
		}
	}
	return &SplitForOutput[B]{nSections: nSections}, nil
}

// Forward concatenates the streams feature-wise and cuts the result into
// sections along the sequence. Returns a DivisibilityError when the
// sequence length does not divide by the section count.
func (s *SplitForOutput[B]) Forward(p Pair[B]) ([]*tensor.Tensor[float32, B], error) {
	if !p.S1.Shape().Equal(p.S2.Shape()) {
		return nil, &ShapeMismatchError{Op: "SplitForOutput.Forward", Want: p.S1.Shape(), Got: p.S2.Shape()}
	}
	seq := p.S1.Shape()[1]
	if seq%s.nSections != 0 {
		return nil, &DivisibilityError{What: "sequence length", Size: seq, Divisor: s.nSections}
	}

	joined := tensor.Cat([]*tensor.Tensor[float32, B]{p.S1, p.S2}, -1)
	return joined.Split(s.nSections, 1), nil
}

// Reverse reassembles the pair from its sections.
func (s *SplitForOutput[B]) Reverse(sections []*tensor.Tensor[float32, B]) (Pair[B], error) {
	if len(sections) != s.nSections {
		return Pair[B]{}, &ConfigurationError{
			Field:  "sections",
			Reason: "section count does not match the layer's configuration",
		}
	}
	joined := tensor.Cat(sections, 1)
	halves := joined.Split(2, -1)
	return Pair[B]{S1: halves[0], S2: halves[1]}, nil
}

// ReverseAndGrad reassembles the pair and rearranges the sections'
// cotangents into the pair's cotangent.
func (s *SplitForOutput[B]) ReverseAndGrad(sections, sectionGrads []*tensor.Tensor[float32, B]) (Pair[B], Pair[B], error) {
	if len(sectionGrads) != len(sections) {
		return Pair[B]{}, Pair[B]{}, &ConfigurationError{
			Field:  "sectionGrads",
			Reason: "cotangent count does not match the section count",
		}
	}
	for i := range sections {
		if !sections[i].Shape().Equal(sectionGrads[i].Shape()) {
			return Pair[B]{}, Pair[B]{}, &ShapeMismatchError{Op: "SplitForOutput.ReverseAndGrad", Want: sections[i].Shape(), Got: sectionGrads[i].Shape()}
		}
	}

	pair, err := s.Reverse(sections)
	if err != nil {
		return Pair[B]{}, Pair[B]{}, err
	}
	gradJoined := tensor.Cat(sectionGrads, 1)
	gradHalves := gradJoined.Split(2, -1)
	return pair, Pair[B]{S1: gradHalves[0], S2: gradHalves[1]}, nil
}

// NumSections returns the configured section count.
func (s *SplitForOutput[B]) NumSections() int {
	return s.nSections
}
