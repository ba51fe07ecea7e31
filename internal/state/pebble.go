package state

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// PebbleStore persists state in an embedded Pebble database
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *PebbleStore) Set(ctx context.Context, key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.Sync)
}

func (s *PebbleStore) List(ctx context.Context, prefix string) (map[string][]byte, []string, error) {
	opts := &pebble.IterOptions{LowerBound: []byte(prefix)}
	if upper := prefixUpperBound([]byte(prefix)); upper != nil {
		opts.UpperBound = upper
	}
	it, err := s.db.NewIter(opts)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()

	values := make(map[string][]byte)
	var keys []string
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		k := string(it.Key())
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		keys = append(keys, k)
		values[k] = v
	}
	if err := it.Error(); err != nil {
		return nil, nil, err
	}
	return values, keys, nil
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// prefixUpperBound returns the smallest key greater than every key with the
// prefix, or nil when no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
