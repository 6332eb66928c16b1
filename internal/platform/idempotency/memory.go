package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process memory. It backs tests and single-instance development runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	var existing *Record
	if record, ok := s.records[id]; ok {
		existing = &record
	}
	reservation, write, err := decideReservation(existing, key, fingerprint, now.UTC(), ttl)
	if err != nil {
		return Reservation{}, err
	}
	if write != nil {
		s.records[id] = *write
	}
	return reservation, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	var existing *Record
	if record, ok := s.records[id]; ok {
		existing = &record
	}
	record, err := completedRecord(existing, key, fingerprint, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	s.records[id] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID(key))
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = len(s.records)
	}
	removed := 0
	for id, record := range s.records {
		if removed >= limit {
			break
		}
		if record.ExpiresAt.IsZero() || now.Before(record.ExpiresAt) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}
