// Package impl_inmem provides an in-memory secretstore.Store implementation.
//
// This is for demo and testing purposes. In production the sync core should
// be wired to an OS keychain or equivalent credential store behind the same
// interface.
package impl_inmem

import (
	"context"
	"sync"

	"github.com/flowdesk/syncd/internal/secretstore"
)

// Store implements secretstore.Store with in-memory storage.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New creates a new in-memory secret store.
func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

var _ secretstore.Store = (*Store)(nil)

// Set implements secretstore.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), value...)
	s.values[key] = cp
	return nil
}

// Get implements secretstore.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, secretstore.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Delete implements secretstore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
