package state

import (
	"context"
	"errors"
	"testing"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "stream/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, k := range []string{"stream/b", "stream/a", "other/x"} {
		if err := s.Set(ctx, k, []byte("v-"+k)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	v, err := s.Get(ctx, "stream/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "v-stream/a" {
		t.Errorf("unexpected value %q", v)
	}

	values, keys, err := s.List(ctx, "stream/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 || keys[0] != "stream/a" || keys[1] != "stream/b" {
		t.Errorf("unexpected keys %v", keys)
	}
	if string(values["stream/b"]) != "v-stream/b" {
		t.Errorf("unexpected listed value %q", values["stream/b"])
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf)
	buf[0] = 'x'

	v, _ := s.Get(ctx, "k")
	if string(v) != "abc" {
		t.Errorf("stored value aliased caller buffer: %q", v)
	}
}

func TestPebbleStore(t *testing.T) {
	s, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestPebbleStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set(ctx, "stream/logs", []byte("schema")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	v, err := s.Get(ctx, "stream/logs")
	if err != nil || string(v) != "schema" {
		t.Errorf("expected persisted value, got %q, %v", v, err)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	if got := prefixUpperBound([]byte("ab")); string(got) != "ac" {
		t.Errorf("expected ac, got %q", got)
	}
	if got := prefixUpperBound([]byte{0xff, 0xff}); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := prefixUpperBound(nil); got != nil {
		t.Errorf("expected nil for empty prefix, got %v", got)
	}
}
