package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// ObservationStore implements domain.ObservationStore using PostgreSQL.
type ObservationStore struct {
	pool *pgxpool.Pool
}

// NewObservationStore creates an ObservationStore backed by the given
// connection pool.
func NewObservationStore(pool *pgxpool.Pool) *ObservationStore {
	return &ObservationStore{pool: pool}
}

// InsertBatch journals a batch of training observations for the named model
// using a pgx Batch.
func (s *ObservationStore) InsertBatch(ctx context.Context, model string, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	const query = `
		INSERT INTO observations (
			model, quantity_usd, relative_size, spread_bps,
			volatility, imbalance, actual
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(query,
			model, o.Features.QuantityUSD, o.Features.RelativeSize,
			o.Features.SpreadBps, o.Features.Volatility,
			o.Features.Imbalance, o.Actual,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range obs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert observation %d/%d for %q: %w", i+1, len(obs), model, err)
		}
	}
	return nil
}

// Count reports how many observations are journaled for the named model.
func (s *ObservationStore) Count(ctx context.Context, model string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM observations WHERE model = $1", model,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count observations for %q: %w", model, err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.ObservationStore = (*ObservationStore)(nil)
