package store

import (
	"context"
	"sync"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// MemoryStore is an in-memory CheckpointStore for tests and dry runs. It
// preserves append order and applies the same first-write-wins semantics as
// the durable backends.
type MemoryStore struct {
	mu      sync.Mutex
	order   []string
	records map[string]model.CheckpointRecord
	errors  map[string]string
	errSeq  []string

	// FailAppends forces Append/AppendBatch to return this error, for
	// exercising the fatal checkpoint-IO path.
	FailAppends error
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]model.CheckpointRecord),
		errors:  make(map[string]string),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func (s *MemoryStore) Exists(ctx context.Context, rowID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[rowID]
	return ok, nil
}

func (s *MemoryStore) Append(ctx context.Context, rec model.CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec)
}

func (s *MemoryStore) AppendBatch(ctx context.Context, recs []model.CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if err := s.appendLocked(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) appendLocked(rec model.CheckpointRecord) error {
	if s.FailAppends != nil {
		return s.FailAppends
	}
	if _, ok := s.records[rec.RowID]; ok {
		return nil
	}
	s.records[rec.RowID] = rec
	s.order = append(s.order, rec.RowID)
	return nil
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]model.CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CheckpointRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *MemoryStore) RecordError(ctx context.Context, rowID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.errors[rowID]; !ok {
		s.errSeq = append(s.errSeq, rowID)
	}
	s.errors[rowID] = reason
	return nil
}

func (s *MemoryStore) LoadErrors(ctx context.Context) ([]ErroredAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ErroredAttempt, 0, len(s.errSeq))
	for _, id := range s.errSeq {
		out = append(out, ErroredAttempt{RowID: id, Reason: s.errors[id]})
	}
	return out, nil
}
