// Package meter implements a lock-free transfer rate and lifetime total
// counter built from a ring of per-time-bucket atomic counters.
package meter

import "sync/atomic"

const (
	// BucketMillis is the width of one accounting bucket in milliseconds.
	BucketMillis = 1000

	// Buckets is the number of retained buckets, i.e. the sliding window
	// covers Buckets*BucketMillis of history.
	Buckets = 10
)

// Meter tracks an instantaneous rate and a lifetime total for any countable
// quantity (usually bytes). All methods are safe for concurrent use from any
// number of goroutines and never take a lock; this sits on the per-packet hot
// path.
//
// Buckets are numbered by the current time divided by BucketMillis, modulo
// Buckets. When Log observes that time has moved to a new bucket, the new
// bucket's stale contents are folded into a lifetime accumulator and the
// bucket restarts at the logged count. Concurrent callers observing slightly
// different clocks may briefly double-count one transitional bucket in Rate;
// that approximation is the accepted price of lock-freedom.
//
// Known limitation: if the supplied clock jumps backward the bucket index
// still computes deterministically but can land on a retained bucket and
// reset it, losing that bucket's contribution to the rate (never to the
// total). Callers feed a monotonic-enough clock; the meter does not clamp.
type Meter struct {
	counts [Buckets]atomic.Uint64
	total  atomic.Uint64 // everything already rotated out of the window
	bucket atomic.Uint32 // index of the bucket currently being filled
}

// Log adds count to the bucket for the supplied time (milliseconds).
func (m *Meter) Log(now int64, count uint64) {
	bucket := uint32(uint64(now/BucketMillis) % Buckets)
	if m.bucket.Swap(bucket) != bucket {
		// Time advanced into a new window slot: retire whatever this
		// slot held a full window ago and start it over at count.
		m.total.Add(m.counts[bucket].Swap(count))
	} else {
		m.counts[bucket].Add(count)
	}
}

// Rate returns the average count per bucket interval over the retained
// window and the lifetime total. Before any Log call both are zero.
func (m *Meter) Rate() (rate float64, total uint64) {
	var windowed uint64
	for i := 0; i < Buckets; i++ {
		windowed += m.counts[i].Load()
	}
	rate = float64(windowed) / float64(Buckets)
	total = windowed + m.total.Load()
	return
}
