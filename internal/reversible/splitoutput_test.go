package reversible_test

import (
	"errors"
	"testing"

	"github.com/revnet-ml/revnet/internal/reversible"
	"github.com/revnet-ml/revnet/internal/tensor"
)

func TestSplitForOutputShapes(t *testing.T) {
	backend := newBackend()
	split, err := reversible.NewSplitForOutput[adB](3)
	if err != nil {
		t.Fatalf("NewSplitForOutput: %v", err)
	}
	if split.NumSections() != 3 {
		t.Fatalf("NumSections = %d, want 3", split.NumSections())
	}

	pair := reversible.Pair[adB]{
		S1: randTensor(1, tensor.Shape{2, 6, 4}, backend),
		S2: randTensor(2, tensor.Shape{2, 6, 4}, backend),
	}
	sections, err := split.Forward(pair)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3", len(sections))
	}
	for i, s := range sections {
		if !s.Shape().Equal(tensor.Shape{2, 2, 8}) {
			t.Errorf("section %d shape = %v, want [2 2 8]", i, s.Shape())
		}
	}
}

func TestSplitForOutputRoundtrip(t *testing.T) {
	backend := newBackend()
	split, err := reversible.NewSplitForOutput[adB](2)
	if err != nil {
		t.Fatalf("NewSplitForOutput: %v", err)
	}

	shapes := []tensor.Shape{{1, 4, 3}, {2, 8, 4}}
	for _, shape := range shapes {
		pair := reversible.Pair[adB]{
			S1: randTensor(1, shape, backend),
			S2: randTensor(2, shape, backend),
		}
		sections, err := split.Forward(pair)
		if err != nil {
			t.Fatalf("Forward %v: %v", shape, err)
		}
		back, err := split.Reverse(sections)
		if err != nil {
			t.Fatalf("Reverse %v: %v", shape, err)
		}
		checkClose(t, "stream 1", back.S1.Data(), pair.S1.Data(), 0)
		checkClose(t, "stream 2", back.S2.Data(), pair.S2.Data(), 0)
	}
}

func TestSplitForOutputGradRearrangement(t *testing.T) {
	backend := newBackend()
	split, err := reversible.NewSplitForOutput[adB](2)
	if err != nil {
		t.Fatalf("NewSplitForOutput: %v", err)
	}

	pair := reversible.Pair[adB]{
		S1: randTensor(1, tensor.Shape{1, 4, 3}, backend),
		S2: randTensor(2, tensor.Shape{1, 4, 3}, backend),
	}
	sections, err := split.Forward(pair)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// Feeding the sections back as their own cotangents must reproduce the
	// pair: the gradient of a rearrangement is the inverse rearrangement.
	back, grad, err := split.ReverseAndGrad(sections, sections)
	if err != nil {
		t.Fatalf("ReverseAndGrad: %v", err)
	}
	checkClose(t, "pair s1", back.S1.Data(), pair.S1.Data(), 0)
	checkClose(t, "grad s1", grad.S1.Data(), pair.S1.Data(), 0)
	checkClose(t, "grad s2", grad.S2.Data(), pair.S2.Data(), 0)
}

func TestSplitForOutputErrors(t *testing.T) {
	backend := newBackend()

	_, err := reversible.NewSplitForOutput[adB](0)
	var cfgErr *reversible.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("nSections=0: got %v, want ConfigurationError", err)
	}

	split, err := reversible.NewSplitForOutput[adB](3)
	if err != nil {
		t.Fatalf("NewSplitForOutput: %v", err)
	}

	// Sequence length must divide by the section count.
	pair := reversible.Pair[adB]{
		S1: randTensor(1, tensor.Shape{1, 4, 2}, backend),
		S2: randTensor(2, tensor.Shape{1, 4, 2}, backend),
	}
	_, err = split.Forward(pair)
	var divErr *reversible.DivisibilityError
	if !errors.As(err, &divErr) {
		t.Errorf("seq=4 sections=3: got %v, want DivisibilityError", err)
	}

	// The streams must share one shape.
	mismatched := reversible.Pair[adB]{
		S1: randTensor(3, tensor.Shape{1, 6, 2}, backend),
		S2: randTensor(4, tensor.Shape{1, 6, 3}, backend),
	}
	_, err = split.Forward(mismatched)
	var shapeErr *reversible.ShapeMismatchError
	if !errors.As(err, &shapeErr) {
		t.Errorf("mismatched streams: got %v, want ShapeMismatchError", err)
	}

	// Reverse rejects the wrong number of sections.
	good := reversible.Pair[adB]{
		S1: randTensor(5, tensor.Shape{1, 6, 2}, backend),
		S2: randTensor(6, tensor.Shape{1, 6, 2}, backend),
	}
	sections, err := split.Forward(good)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if _, err := split.Reverse(sections[:2]); !errors.As(err, &cfgErr) {
		t.Errorf("short sections: got %v, want ConfigurationError", err)
	}
}
