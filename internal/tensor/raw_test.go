package tensor_test

import (
	"testing"

	"github.com/revnet-ml/revnet/internal/tensor"
)

func TestNewRawZeroInitialized(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	defer raw.Release()

	if raw.NumElements() != 6 {
		t.Errorf("NumElements = %d, want 6", raw.NumElements())
	}
	if raw.ByteSize() != 24 {
		t.Errorf("ByteSize = %d, want 24", raw.ByteSize())
	}
	for i, v := range raw.AsFloat32() {
		if v != 0 {
			t.Fatalf("element %d not zero: %v", i, v)
		}
	}
}

func TestNewRawRejectsInvalidShape(t *testing.T) {
	if _, err := tensor.NewRaw(tensor.Shape{2, 0}, tensor.Float32, tensor.CPU); err == nil {
		t.Error("zero-sized dimension should be rejected")
	}
	if _, err := tensor.NewRaw(tensor.Shape{-1}, tensor.Float32, tensor.CPU); err == nil {
		t.Error("negative dimension should be rejected")
	}
}

func TestCloneSharesBuffer(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{4}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	defer raw.Release()

	clone := raw.Clone()
	if raw.IsUnique() {
		t.Error("IsUnique should be false after Clone")
	}

	raw.AsFloat32()[1] = 42
	if got := clone.AsFloat32()[1]; got != 42 {
		t.Errorf("clone does not share storage: got %v, want 42", got)
	}

	clone.Release()
	if !raw.IsUnique() {
		t.Error("IsUnique should be true after the clone is released")
	}
}

func TestForceNonUnique(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{4}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	defer raw.Release()

	unpin := raw.ForceNonUnique()
	if raw.IsUnique() {
		t.Error("IsUnique should be false while pinned")
	}
	unpin()
	if !raw.IsUnique() {
		t.Error("IsUnique should be true after unpinning")
	}
}

func TestMemoryAccounting(t *testing.T) {
	before := tensor.LiveBytes()

	raw, err := tensor.NewRaw(tensor.Shape{256}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	if got := tensor.LiveBytes() - before; got != 1024 {
		t.Errorf("LiveBytes grew by %d, want 1024", got)
	}

	// Clones share the buffer and must not be counted twice.
	clone := raw.Clone()
	if got := tensor.LiveBytes() - before; got != 1024 {
		t.Errorf("LiveBytes after clone grew by %d, want 1024", got)
	}

	// The buffer is freed only when the last reference goes away.
	raw.Release()
	if got := tensor.LiveBytes() - before; got != 1024 {
		t.Errorf("LiveBytes after first release grew by %d, want 1024", got)
	}
	clone.Release()
	if got := tensor.LiveBytes() - before; got != 0 {
		t.Errorf("LiveBytes after final release grew by %d, want 0", got)
	}
}

func TestPeakBytes(t *testing.T) {
	tensor.ResetPeakBytes()
	base := tensor.PeakBytes()

	raw, err := tensor.NewRaw(tensor.Shape{512}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	raw.Release()

	if got := tensor.PeakBytes() - base; got < 2048 {
		t.Errorf("PeakBytes grew by %d, want at least 2048", got)
	}
	if tensor.PeakBytes() < tensor.LiveBytes() {
		t.Error("PeakBytes below LiveBytes")
	}
}
