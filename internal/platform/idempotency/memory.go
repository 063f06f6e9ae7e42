package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process memory. Used in tests and single-instance local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	existing, ok := s.records[id]
	if !ok || existing.expired(now) {
		s.records[id] = pending(fingerprint, now, ttl)
		return Entry{State: StateNew}, nil
	}
	if existing.Fingerprint != fingerprint {
		return Entry{}, ErrKeyReused
	}
	return existing.entry(), nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	rec := s.records[id]
	rec.complete(resp, now, ttl)
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID(key))
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if rec.expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
