package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements CheckpointStore using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	row_id     TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	confidence TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS errored_attempts (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	row_id     TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at);
CREATE INDEX IF NOT EXISTS idx_errored_attempts_row ON errored_attempts(row_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, rowID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM checkpoints WHERE row_id = $1)`, rowID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists %s", rowID)
	}
	return exists, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec model.CheckpointRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (row_id, label, reason, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (row_id) DO NOTHING`,
		rec.RowID, string(rec.Label), rec.Reason, rec.Confidence, rec.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: append checkpoint %s", rec.RowID)
}

func (s *PostgresStore) AppendBatch(ctx context.Context, recs []model.CheckpointRecord) error {
	for _, rec := range recs {
		if err := s.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]model.CheckpointRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT row_id, label, reason, confidence, created_at FROM checkpoints ORDER BY created_at, row_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load checkpoints")
	}
	defer rows.Close()

	var recs []model.CheckpointRecord
	for rows.Next() {
		var rec model.CheckpointRecord
		var label string
		if err := rows.Scan(&rec.RowID, &label, &rec.Reason, &rec.Confidence, &rec.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		rec.Label = model.Label(label)
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: load checkpoints iterate")
}

func (s *PostgresStore) RecordError(ctx context.Context, rowID, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO errored_attempts (id, row_id, reason, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), rowID, reason, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record error %s", rowID)
}

func (s *PostgresStore) LoadErrors(ctx context.Context) ([]ErroredAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (row_id) row_id, reason FROM errored_attempts ORDER BY row_id, created_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load errors")
	}
	defer rows.Close()

	var out []ErroredAttempt
	for rows.Next() {
		var ea ErroredAttempt
		if err := rows.Scan(&ea.RowID, &ea.Reason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan errored attempt")
		}
		out = append(out, ea)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load errors iterate")
}
