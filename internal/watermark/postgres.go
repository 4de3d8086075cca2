package watermark

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ Store  = (*PostgresStore)(nil)
	_ Lister = (*PostgresStore)(nil)
)

// PostgresStore writes to governance_watermarks. The upsert only moves a
// value forward, so a stale write can never lower a watermark.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS governance_watermarks (
			chain_id TEXT PRIMARY KEY,
			value BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() { p.pool.Close() }

func (p *PostgresStore) Get(ctx context.Context, chainID string) (uint64, error) {
	var v int64
	err := p.pool.QueryRow(ctx, `SELECT value FROM governance_watermarks WHERE chain_id = $1`, chainID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get watermark %s: %w", chainID, err)
	}
	return uint64(v), nil
}

func (p *PostgresStore) Advance(ctx context.Context, chainID string, value uint64) error {
	if value > math.MaxInt64 {
		return &PersistError{ChainID: chainID, Value: value, Err: errors.New("value out of range")}
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO governance_watermarks (chain_id, value)
		 VALUES ($1, $2)
		 ON CONFLICT (chain_id) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		 WHERE EXCLUDED.value > governance_watermarks.value`,
		chainID, int64(value),
	)
	if err != nil {
		return &PersistError{ChainID: chainID, Value: value, Err: err}
	}
	return nil
}

func (p *PostgresStore) All(ctx context.Context) (map[string]uint64, error) {
	rows, err := p.pool.Query(ctx, `SELECT chain_id, value FROM governance_watermarks`)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	out := make(map[string]uint64)
	var id string
	var v int64
	_, err = pgx.ForEachRow(rows, []any{&id, &v}, func() error {
		out[id] = uint64(v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan watermarks: %w", err)
	}
	return out, nil
}
