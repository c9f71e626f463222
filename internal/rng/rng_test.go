package rng_test

import (
	"testing"

	"github.com/revnet-ml/revnet/internal/rng"
)

func TestSameSeedSameStream(t *testing.T) {
	a := rng.New(42)
	b := rng.New(42)
	for i := 0; i < 100; i++ {
		if got, want := a.Uint64(), b.Uint64(); got != want {
			t.Fatalf("draw %d: streams diverged: %d != %d", i, got, want)
		}
	}
}

func TestDifferentSeedsDiffer(t *testing.T) {
	a := rng.New(1)
	b := rng.New(2)
	same := 0
	for i := 0; i < 64; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	if same > 0 {
		t.Errorf("seeds 1 and 2 collided on %d of 64 draws", same)
	}
}

func TestSplitIsStructural(t *testing.T) {
	// Children depend only on the parent key and the child index, not on
	// how many values the parent has drawn.
	a := rng.New(7)
	b := rng.New(7)
	for i := 0; i < 10; i++ {
		b.Uint64()
	}

	ca := a.Split(4)
	cb := b.Split(4)
	for i := range ca {
		for j := 0; j < 16; j++ {
			if got, want := ca[i].Uint64(), cb[i].Uint64(); got != want {
				t.Fatalf("child %d draw %d: %d != %d", i, j, got, want)
			}
		}
	}
}

func TestSplitTwiceYieldsSameChildren(t *testing.T) {
	r := rng.New(99)
	first := r.Split(3)
	second := r.Split(3)
	for i := range first {
		if got, want := first[i].Uint64(), second[i].Uint64(); got != want {
			t.Fatalf("child %d: repeated split diverged: %d != %d", i, got, want)
		}
	}
}

func TestChildrenIndependentOfParentAndSiblings(t *testing.T) {
	r := rng.New(3)
	children := r.Split(3)

	seen := map[uint64]int{r.Uint64(): -1}
	for i, c := range children {
		v := c.Uint64()
		if prev, ok := seen[v]; ok {
			t.Errorf("child %d first draw collides with stream %d", i, prev)
		}
		seen[v] = i
	}
}

func TestCloneResumesAtSamePosition(t *testing.T) {
	r := rng.New(5)
	for i := 0; i < 7; i++ {
		r.Uint64()
	}
	c := r.Clone()
	for i := 0; i < 20; i++ {
		if got, want := c.Uint64(), r.Uint64(); got != want {
			t.Fatalf("draw %d after clone: %d != %d", i, got, want)
		}
	}
}

func TestFloat32Range(t *testing.T) {
	r := rng.New(13)
	for i := 0; i < 1000; i++ {
		v := r.Float32()
		if v < 0 || v >= 1 {
			t.Fatalf("Float32 out of [0, 1): %v", v)
		}
	}
}

func TestFloat64Range(t *testing.T) {
	r := rng.New(17)
	for i := 0; i < 1000; i++ {
		v := r.Float64()
		if v < 0 || v >= 1 {
			t.Fatalf("Float64 out of [0, 1): %v", v)
		}
	}
}

func TestBernoulliReplay(t *testing.T) {
	a := make([]float32, 256)
	b := make([]float32, 256)
	rng.New(21).Bernoulli(0.9, a)
	rng.New(21).Bernoulli(0.9, b)
	ones := 0
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("index %d: replayed mask differs: %v != %v", i, a[i], b[i])
		}
		if a[i] != 0 && a[i] != 1 {
			t.Fatalf("index %d: Bernoulli draw is not 0/1: %v", i, a[i])
		}
		if a[i] == 1 {
			ones++
		}
	}
	// keep=0.9 over 256 draws; a wide band avoids flakiness.
	if ones < 192 || ones == 256 {
		t.Errorf("keep rate implausible: %d of 256 ones at keep=0.9", ones)
	}
}

func TestFillNormalMoments(t *testing.T) {
	dst := make([]float32, 4096)
	rng.New(31).FillNormal(dst)

	var sum, sumSq float64
	for _, v := range dst {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	mean := sum / float64(len(dst))
	variance := sumSq/float64(len(dst)) - mean*mean
	if mean < -0.1 || mean > 0.1 {
		t.Errorf("sample mean %v too far from 0", mean)
	}
	if variance < 0.85 || variance > 1.15 {
		t.Errorf("sample variance %v too far from 1", variance)
	}
}
