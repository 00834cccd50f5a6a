package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// SQLiteStore implements CheckpointStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	row_id     TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	confidence TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS errored_attempts (
	id         TEXT PRIMARY KEY,
	row_id     TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at);
CREATE INDEX IF NOT EXISTS idx_errored_attempts_row ON errored_attempts(row_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Exists(ctx context.Context, rowID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM checkpoints WHERE row_id = ?`, rowID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: exists %s", rowID)
	}
	return true, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec model.CheckpointRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO checkpoints (row_id, label, reason, confidence, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.RowID, string(rec.Label), rec.Reason, rec.Confidence, rec.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append checkpoint %s", rec.RowID)
}

func (s *SQLiteStore) AppendBatch(ctx context.Context, recs []model.CheckpointRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO checkpoints (row_id, label, reason, confidence, created_at) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare batch insert")
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.RowID, string(rec.Label), rec.Reason, rec.Confidence, rec.Timestamp.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: batch insert %s", rec.RowID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]model.CheckpointRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_id, label, reason, confidence, created_at FROM checkpoints ORDER BY created_at, row_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load checkpoints")
	}
	defer rows.Close()

	var recs []model.CheckpointRecord
	for rows.Next() {
		var rec model.CheckpointRecord
		var label string
		if err := rows.Scan(&rec.RowID, &label, &rec.Reason, &rec.Confidence, &rec.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		rec.Label = model.Label(label)
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: load checkpoints iterate")
}

func (s *SQLiteStore) RecordError(ctx context.Context, rowID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO errored_attempts (id, row_id, reason, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), rowID, reason, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record error %s", rowID)
}

func (s *SQLiteStore) LoadErrors(ctx context.Context) ([]ErroredAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_id, reason FROM errored_attempts ea
		 WHERE created_at = (SELECT MAX(created_at) FROM errored_attempts WHERE row_id = ea.row_id)
		 ORDER BY created_at, row_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load errors")
	}
	defer rows.Close()

	var out []ErroredAttempt
	for rows.Next() {
		var ea ErroredAttempt
		if err := rows.Scan(&ea.RowID, &ea.Reason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan errored attempt")
		}
		out = append(out, ea)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load errors iterate")
}
