package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLimiter struct {
	allowed bool
	err     error
	gotKey  string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.gotKey = key
	return f.allowed, f.err
}

func TestRateLimitAllows(t *testing.T) {
	lim := &fakeLimiter{allowed: true}
	h := RateLimit(lim, 10, time.Second)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/results", nil)
	req.RemoteAddr = "10.0.0.9:4432"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api:10.0.0.9", lim.gotKey)
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	h := RateLimit(&fakeLimiter{allowed: false}, 10, time.Second)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(&fakeLimiter{err: errors.New("redis down")}, 10, time.Second)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
