package store

import (
	"sync"

	"github.com/blackroadhq/eventmesh/internal/codec"
	"github.com/blackroadhq/eventmesh/internal/models"
)

// MemoryStore is the volatile in-memory correlation store. Contents live for
// the process lifetime; appends are serialized relative to reads.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.Envelope
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds the envelope to the log.
func (s *MemoryStore) Append(e models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, codec.Clone(e))
	return nil
}

// FindByKey returns clones of every matching envelope in append order, so
// callers cannot reach back into the store's maps.
func (s *MemoryStore) FindByKey(key string, keyType models.KeyType) ([]models.Envelope, error) {
	if key == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []models.Envelope
	for _, e := range s.entries {
		if e.CorrelationKey(keyType) == key {
			matches = append(matches, codec.Clone(e))
		}
	}
	return matches, nil
}

// Len reports the number of stored envelopes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
