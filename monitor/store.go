package monitor

import (
	"maps"
	"sync"
)

// ValueStore holds the latest value per logical sensor name. A key is absent
// until its first Set.
type ValueStore struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewValueStore returns an empty store.
func NewValueStore() *ValueStore {
	return &ValueStore{values: make(map[string]float64)}
}

// Set replaces the value for key.
func (s *ValueStore) Set(key string, value float64) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Get returns the latest value for key and whether it was ever set.
func (s *ValueStore) Get(key string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// AllPresent reports whether every key has been set at least once.
func (s *ValueStore) AllPresent(keys ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		if _, ok := s.values[k]; !ok {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of every stored value.
func (s *ValueStore) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}
