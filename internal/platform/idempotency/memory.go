package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	record, ok := s.records[id]
	if ok && now.Before(record.ExpiresAt) {
		if record.Fingerprint != fingerprint {
			return StatePending, Record{}, ErrFingerprintMismatch
		}
		if record.Completed {
			return StateCompleted, record, nil
		}
		return StatePending, record, nil
	}
	record = Record{Key: key, Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
	s.records[id] = record
	return StateNew, record, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(record.Key)
	if existing, ok := s.records[id]; ok && existing.Fingerprint != record.Fingerprint {
		return ErrFingerprintMismatch
	}
	record.Completed = true
	record.Body = append([]byte(nil), record.Body...)
	s.records[id] = record
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID(key))
	return nil
}
