// ABOUTME: In-memory implementation of the Store interface
// ABOUTME: Used in tests and anywhere durability across restarts is not needed

package store

import (
	"context"
	"sync"
)

// MemoryStore implements the Store interface with an ordered in-memory
// record list. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	byKey   map[string]int // primary key -> index into records
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]int)}
}

// Create persists a record, overwriting on primary key conflict while
// keeping the record's original insertion position.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	if idx, ok := s.byKey[rec.PrimaryKey]; ok {
		s.records[idx] = &clone
		return nil
	}
	s.byKey[rec.PrimaryKey] = len(s.records)
	s.records = append(s.records, &clone)
	return nil
}

// GetByID returns the record with the given primary key.
func (s *MemoryStore) GetByID(ctx context.Context, primaryKey string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byKey[primaryKey]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *s.records[idx]
	return &clone, nil
}

// List returns a partition's records in insertion order.
func (s *MemoryStore) List(ctx context.Context, secondaryKey string, limit, offset int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Record
	for _, rec := range s.records {
		if rec.SecondaryKey == secondaryKey {
			matched = append(matched, rec)
		}
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*Record, len(matched))
	for i, rec := range matched {
		clone := *rec
		out[i] = &clone
	}
	return out, nil
}

// All returns every record in insertion order.
func (s *MemoryStore) All(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, len(s.records))
	for i, rec := range s.records {
		clone := *rec
		out[i] = &clone
	}
	return out, nil
}

// Update overwrites the record with the given primary key.
func (s *MemoryStore) Update(ctx context.Context, rec *Record) error {
	return s.Create(ctx, rec)
}

// Delete removes the record with the given primary key.
func (s *MemoryStore) Delete(ctx context.Context, primaryKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byKey[primaryKey]
	if !ok {
		return nil
	}
	delete(s.byKey, primaryKey)
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	for key, i := range s.byKey {
		if i > idx {
			s.byKey[key] = i - 1
		}
	}
	return nil
}
