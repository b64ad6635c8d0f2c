package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// ResultStore implements domain.ResultStore using PostgreSQL.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a ResultStore backed by the given connection pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Insert journals one cost result. Re-inserting the same result ID is a
// no-op.
func (s *ResultStore) Insert(ctx context.Context, res domain.CostResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("postgres: marshal result %s: %w", res.ID, err)
	}

	const query = `
		INSERT INTO cost_results (
			id, created_at, exchange, asset, side,
			quantity_usd, net_cost_bps, sequence, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query,
		res.ID, res.Timestamp, res.Params.Exchange, res.Params.Asset,
		string(res.Params.Side), res.Params.QuantityUSD, res.NetCostBps,
		int64(res.Book.Sequence), payload,
	); err != nil {
		return fmt.Errorf("postgres: insert result %s: %w", res.ID, err)
	}
	return nil
}

// Latest returns the most recently journaled result. It returns
// domain.ErrNotFound when the journal is empty.
func (s *ResultStore) Latest(ctx context.Context) (domain.CostResult, error) {
	const query = `
		SELECT payload FROM cost_results
		ORDER BY created_at DESC
		LIMIT 1`

	var payload []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CostResult{}, domain.ErrNotFound
		}
		return domain.CostResult{}, fmt.Errorf("postgres: latest result: %w", err)
	}

	var res domain.CostResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return domain.CostResult{}, fmt.Errorf("postgres: unmarshal result: %w", err)
	}
	return res, nil
}

// List pages through journaled results newest first, optionally bounded to
// a time window.
func (s *ResultStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.CostResult, error) {
	query := `SELECT payload FROM cost_results WHERE 1=1`
	args := []any{}
	idx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at > $%d", idx)
		args = append(args, *opts.Since)
		idx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *opts.Until)
		idx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, opts.Limit)
		idx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list results: %w", err)
	}
	defer rows.Close()

	var results []domain.CostResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan result: %w", err)
		}
		var res domain.CostResult
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list results: %w", err)
	}
	return results, nil
}

// DeleteOlderThan prunes results journaled before the cutoff and reports
// how many rows were removed.
func (s *ResultStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM cost_results WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete results before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.ResultStore = (*ResultStore)(nil)
