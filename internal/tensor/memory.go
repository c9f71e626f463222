package tensor

import "sync/atomic"

// Buffer-level memory accounting. Allocation is tracked when a buffer is
// created and released when its refcount reaches zero, so the live counter
// reflects explicitly managed tensors, not garbage awaiting collection.
var (
	liveBytes atomic.Int64
	peakBytes atomic.Int64
)

func trackAlloc(n int64) {
	live := liveBytes.Add(n)
	for {
		peak := peakBytes.Load()
		if live <= peak || peakBytes.CompareAndSwap(peak, live) {
			return
		}
	}
}

func trackFree(n int64) {
	liveBytes.Add(-n)
}

// LiveBytes returns the number of bytes currently held by tensor buffers
// that have been allocated and not yet released.
func LiveBytes() int64 {
	return liveBytes.Load()
}

// PeakBytes returns the high-water mark of live tensor bytes since the last
// call to ResetPeakBytes.
func PeakBytes() int64 {
	return peakBytes.Load()
}

// ResetPeakBytes resets the high-water mark to the current live byte count.
func ResetPeakBytes() {
	peakBytes.Store(liveBytes.Load())
}
