// Package state holds small durable key/value state such as the stream catalog.
package state

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when the key has no value
var ErrNotFound = errors.New("state: key not found")

// Store is a minimal key/value interface for persisted state
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// List returns every key with the given prefix, in key order
	List(ctx context.Context, prefix string) (map[string][]byte, []string, error)
	Close() error
}

// MemoryStore keeps state in process memory. Used in tests and when no
// catalog path is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) (map[string][]byte, []string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values := make(map[string][]byte)
	var keys []string
	for k, v := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		keys = append(keys, k)
		values[k] = append([]byte(nil), v...)
	}
	sort.Strings(keys)
	return values, keys, nil
}

func (m *MemoryStore) Close() error { return nil }
