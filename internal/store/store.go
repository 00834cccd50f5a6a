// Package store persists classification checkpoints. The checkpoint set is
// append-only and keyed by row_id: a second append for an already-recorded
// row is ignored, never overwritten, which makes concurrent duplicate
// appends safe. Errored attempts are recorded separately so a later run can
// retry them.
package store

import (
	"context"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// ErroredAttempt is one failed classification attempt, kept outside the
// checkpoint set so the row stays eligible for reprocessing.
type ErroredAttempt struct {
	RowID  string `json:"row_id"`
	Reason string `json:"reason"`
}

// CheckpointStore is the durable record of classification results. A store
// failure on append or flush is fatal to the run: without durability the
// resumability guarantee cannot be upheld.
type CheckpointStore interface {
	// Exists reports whether a checkpoint record exists for the row.
	Exists(ctx context.Context, rowID string) (bool, error)

	// Append durably records one result. Appending an already-present
	// row_id is a no-op.
	Append(ctx context.Context, rec model.CheckpointRecord) error

	// AppendBatch records a batch atomically, with the same idempotent
	// per-row semantics as Append.
	AppendBatch(ctx context.Context, recs []model.CheckpointRecord) error

	// LoadAll returns every checkpoint record, oldest first. Read at
	// startup to seed resumability.
	LoadAll(ctx context.Context) ([]model.CheckpointRecord, error)

	// RecordError logs a terminal per-run failure for a row.
	RecordError(ctx context.Context, rowID, reason string) error

	// LoadErrors returns the most recent errored attempt per row.
	LoadErrors(ctx context.Context) ([]ErroredAttempt, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
