package feed

import (
	"sync"
	"time"
)

// latencyWindow keeps a fixed-size ring of recent per-message ingestion
// latencies (receive time to enqueue time) and exposes rolling aggregates.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{samples: make([]time.Duration, size)}
}

// Record stores one latency sample, evicting the oldest when full.
func (w *latencyWindow) Record(d time.Duration) {
	w.mu.Lock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
	w.mu.Unlock()
}

// Stats returns the rolling average and maximum in milliseconds.
func (w *latencyWindow) Stats() (avg, max float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0, 0
	}
	var sum, peak time.Duration
	for i := 0; i < w.filled; i++ {
		s := w.samples[i]
		sum += s
		if s > peak {
			peak = s
		}
	}
	return float64(sum.Microseconds()) / float64(w.filled) / 1000,
		float64(peak.Microseconds()) / 1000
}
