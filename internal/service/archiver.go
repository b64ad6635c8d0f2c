package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// ArchiverConfig parameterizes periodic result archival.
type ArchiverConfig struct {
	// Interval between archive sweeps.
	Interval time.Duration
	// Prefix is the object key prefix in the bucket.
	Prefix string
	// BatchLimit caps how many results one sweep exports.
	BatchLimit int
	// Retention is how long journaled results stay in the database after
	// being archived. Zero disables pruning.
	Retention time.Duration
}

// Archiver periodically exports journaled cost results to blob storage as
// JSON-lines objects and prunes the database past the retention window.
type Archiver struct {
	cfg     ArchiverConfig
	results domain.ResultStore
	blob    domain.BlobWriter
	locks   domain.LockManager
	logger  *slog.Logger

	lastExport time.Time
}

// NewArchiver creates an archiver. The result store and blob writer are
// required; locks may be nil for single-instance deployments.
func NewArchiver(cfg ArchiverConfig, results domain.ResultStore, blob domain.BlobWriter, locks domain.LockManager, logger *slog.Logger) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 5000
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "cost-results"
	}
	return &Archiver{
		cfg:        cfg,
		results:    results,
		blob:       blob,
		locks:      locks,
		logger:     logger.With(slog.String("component", "archiver")),
		lastExport: time.Now().UTC(),
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Sweep(ctx); err != nil {
				a.logger.Warn("archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep exports results produced since the previous sweep and applies the
// retention policy.
func (a *Archiver) Sweep(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, "archiver:sweep", a.cfg.Interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.Debug("archive sweep skipped, another instance holds the lock")
				return nil
			}
			return fmt.Errorf("archiver: acquire sweep lock: %w", err)
		}
		defer unlock()
	}

	since := a.lastExport
	now := time.Now().UTC()

	results, err := a.results.List(ctx, domain.ListOpts{
		Limit: a.cfg.BatchLimit,
		Since: &since,
		Until: &now,
	})
	if err != nil {
		return fmt.Errorf("archiver: list results: %w", err)
	}

	if len(results) > 0 {
		key := a.objectKey(now)
		body, err := encodeLines(results)
		if err != nil {
			return fmt.Errorf("archiver: encode batch: %w", err)
		}
		if err := a.blob.Put(ctx, key, bytes.NewReader(body), "application/x-ndjson"); err != nil {
			return fmt.Errorf("archiver: upload %q: %w", key, err)
		}
		a.logger.Info("archived results",
			slog.String("key", key),
			slog.Int("count", len(results)),
		)
	}
	a.lastExport = now

	if a.cfg.Retention > 0 {
		cutoff := now.Add(-a.cfg.Retention)
		deleted, err := a.results.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archiver: prune results: %w", err)
		}
		if deleted > 0 {
			a.logger.Info("pruned archived results", slog.Int64("deleted", deleted))
		}
	}
	return nil
}

// objectKey builds a date-partitioned key so downstream queries can prune
// by prefix.
func (a *Archiver) objectKey(t time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/results-%s.jsonl",
		a.cfg.Prefix, t.Year(), t.Month(), t.Day(), t.Format("150405"))
}

func encodeLines(results []domain.CostResult) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
