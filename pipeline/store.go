package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryCommitmentStore implements CommitmentStore without a database.
// Used in tests and in deployments that accept losing the audit log on
// restart.
type InMemoryCommitmentStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*CommitmentRecord
}

// NewInMemoryCommitmentStore creates an empty in-memory store.
func NewInMemoryCommitmentStore() *InMemoryCommitmentStore {
	return &InMemoryCommitmentStore{
		records: make(map[uuid.UUID]*CommitmentRecord),
	}
}

// Append stores a record, enforcing write-once per batch id.
func (s *InMemoryCommitmentStore) Append(_ context.Context, rec *CommitmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.BatchID]; exists {
		return ErrDuplicateCommitment
	}

	clone := *rec
	s.records[rec.BatchID] = &clone
	return nil
}

// Get returns the record for a batch id, or ErrCommitmentMissing.
func (s *InMemoryCommitmentStore) Get(_ context.Context, batchID uuid.UUID) (*CommitmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[batchID]
	if !ok {
		return nil, ErrCommitmentMissing
	}

	clone := *rec
	return &clone, nil
}

// Len returns the number of stored records.
func (s *InMemoryCommitmentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
