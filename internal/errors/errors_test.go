package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("batch logs/0: %w", NewStoreError("write segment", io.ErrShortWrite))

	if !errors.Is(err, ErrStore) {
		t.Error("expected store error to match ErrStore")
	}
	if errors.Is(err, ErrDecode) {
		t.Error("store error should not match ErrDecode")
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Error("expected cause to stay reachable")
	}
	if KindOf(err) != KindStore {
		t.Errorf("expected kind STORE, got %q", KindOf(err))
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NewProvisioningError("create stream", nil), true},
		{NewDecodeError("bad json", nil), false},
		{NewConversionError("type mismatch", nil), false},
		{NewStoreError("disk full", nil), true},
		{NewCommitError("rebalance", nil), true},
		{io.EOF, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := NewDecodeError("payload at offset 4", io.ErrUnexpectedEOF)
	want := "[DECODE] payload at offset 4: unexpected EOF"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if KindOf(io.EOF) != "" {
		t.Error("plain errors have no kind")
	}
}
