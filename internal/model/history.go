package model

import "github.com/alanyoungcy/costsim/internal/domain"

// history is a fixed-capacity ring buffer of observations. The oldest entry
// is evicted first once capacity is reached. Not safe for concurrent use; the
// owning estimator serializes access.
type history struct {
	buf  []domain.Observation
	next int
	n    int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 500
	}
	return &history{buf: make([]domain.Observation, capacity)}
}

// Push appends an observation, evicting the oldest when full.
func (h *history) Push(o domain.Observation) {
	h.buf[h.next] = o
	h.next = (h.next + 1) % len(h.buf)
	if h.n < len(h.buf) {
		h.n++
	}
}

// Len returns the number of stored observations.
func (h *history) Len() int { return h.n }

// All returns the observations in insertion order, oldest first.
func (h *history) All() []domain.Observation {
	out := make([]domain.Observation, 0, h.n)
	if h.n < len(h.buf) {
		return append(out, h.buf[:h.n]...)
	}
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}
