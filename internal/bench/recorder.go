// Package bench provides lightweight rolling timers for per-stage
// performance measurement (book apply, each estimator, the full simulate
// call). Safe for concurrent use.
package bench

import (
	"sync"
	"time"
)

// StageStats summarizes the recorded durations of one named stage.
type StageStats struct {
	Count  uint64  `json:"count"`
	LastMs float64 `json:"last_ms"`
	AvgMs  float64 `json:"avg_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
}

type stage struct {
	count uint64
	last  time.Duration
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// Recorder accumulates per-stage durations.
type Recorder struct {
	mu     sync.Mutex
	stages map[string]*stage
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{stages: make(map[string]*stage)}
}

// Measure starts a timer for the named stage; call the returned func to
// record the elapsed duration, typically via defer.
func (r *Recorder) Measure(name string) func() {
	start := time.Now()
	return func() { r.Observe(name, time.Since(start)) }
}

// Observe records one duration for the named stage.
func (r *Recorder) Observe(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stages[name]
	if !ok {
		s = &stage{min: d, max: d}
		r.stages[name] = s
	}
	s.count++
	s.last = d
	s.total += d
	if d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
}

// Snapshot returns current stats for every recorded stage.
func (r *Recorder) Snapshot() map[string]StageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StageStats, len(r.stages))
	for name, s := range r.stages {
		out[name] = StageStats{
			Count:  s.count,
			LastMs: ms(s.last),
			AvgMs:  ms(s.total) / float64(s.count),
			MinMs:  ms(s.min),
			MaxMs:  ms(s.max),
		}
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
