package ingest

import (
	"sync"
	"time"

	"batterywatch/internal/telemetry"
)

// ring is a fixed-capacity circular sample buffer. Appends are O(1); the
// oldest sample is evicted on overflow.
type ring struct {
	mu   sync.RWMutex
	buf  []telemetry.Sample
	head int // next write position
	size int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]telemetry.Sample, capacity)}
}

func (r *ring) append(s telemetry.Sample) {
	r.mu.Lock()
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.mu.Unlock()
}

func (r *ring) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// snapshot returns the buffered samples oldest first.
func (r *ring) snapshot() []telemetry.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]telemetry.Sample, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// latest returns up to n most recent samples oldest first, keeping only
// valid ones when validOnly is set.
func (r *ring) latest(n int, validOnly bool) []telemetry.Sample {
	all := r.snapshot()
	if validOnly {
		filtered := all[:0]
		for _, s := range all {
			if s.Valid {
				filtered = append(filtered, s)
			}
		}
		all = filtered
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// between returns buffered samples with from <= ts < to, oldest first.
func (r *ring) between(from, to time.Time) []telemetry.Sample {
	all := r.snapshot()
	out := make([]telemetry.Sample, 0, len(all))
	for _, s := range all {
		if !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			out = append(out, s)
		}
	}
	return out
}
