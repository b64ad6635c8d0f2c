package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// memBlob captures uploaded objects.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (b *memBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[path] = body
	b.types[path] = contentType
	b.mu.Unlock()
	return nil
}

// heldLock always reports the lock as taken.
type heldLock struct{}

func (heldLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// freeLock grants the lock and counts releases.
type freeLock struct {
	acquired int
	released int
}

func (l *freeLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.acquired++
	return func() { l.released++ }, nil
}

func TestSweepExportsJSONLines(t *testing.T) {
	results := &memResultStore{}
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, results.Insert(context.Background(), domain.CostResult{
			ID:         id,
			NetCostBps: 12.5,
			Timestamp:  time.Now().UTC(),
		}))
	}
	blob := newMemBlob()

	a := NewArchiver(ArchiverConfig{Prefix: "cost-results"}, results, blob, nil, testLogger())
	a.lastExport = time.Now().Add(-time.Hour)

	require.NoError(t, a.Sweep(context.Background()))

	blob.mu.Lock()
	defer blob.mu.Unlock()
	require.Len(t, blob.objects, 1)
	for key, body := range blob.objects {
		assert.True(t, strings.HasPrefix(key, "cost-results/"), "key %q", key)
		assert.True(t, strings.HasSuffix(key, ".jsonl"), "key %q", key)
		assert.Equal(t, "application/x-ndjson", blob.types[key])

		var ids []string
		sc := bufio.NewScanner(bytes.NewReader(body))
		for sc.Scan() {
			var res domain.CostResult
			require.NoError(t, json.Unmarshal(sc.Bytes(), &res))
			ids = append(ids, res.ID)
		}
		assert.Equal(t, []string{"r1", "r2", "r3"}, ids)
	}
}

func TestSweepSkipsEmptyBatch(t *testing.T) {
	blob := newMemBlob()
	a := NewArchiver(ArchiverConfig{}, &memResultStore{}, blob, nil, testLogger())

	require.NoError(t, a.Sweep(context.Background()))

	blob.mu.Lock()
	defer blob.mu.Unlock()
	assert.Empty(t, blob.objects)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	results := &memResultStore{}
	require.NoError(t, results.Insert(context.Background(), domain.CostResult{ID: "r1"}))
	blob := newMemBlob()

	a := NewArchiver(ArchiverConfig{}, results, blob, heldLock{}, testLogger())
	a.lastExport = time.Now().Add(-time.Hour)

	require.NoError(t, a.Sweep(context.Background()))

	blob.mu.Lock()
	defer blob.mu.Unlock()
	assert.Empty(t, blob.objects)
}

func TestSweepReleasesLock(t *testing.T) {
	lock := &freeLock{}
	a := NewArchiver(ArchiverConfig{}, &memResultStore{}, newMemBlob(), lock, testLogger())

	require.NoError(t, a.Sweep(context.Background()))
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestObjectKeyLayout(t *testing.T) {
	a := NewArchiver(ArchiverConfig{Prefix: "exports"}, &memResultStore{}, newMemBlob(), nil, testLogger())

	ts := time.Date(2024, 3, 7, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "exports/2024/03/07/results-140509.jsonl", a.objectKey(ts))
}
