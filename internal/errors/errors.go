// Package errors provides the structured error kinds raised while turning
// broker records into stored events. Every error carries a kind, a message,
// an optional cause and a retryable flag so the partition worker can log and
// count failures consistently.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the pipeline stage that raised it.
type Kind string

const (
	KindProvisioning Kind = "PROVISIONING"
	KindDecode       Kind = "DECODE"
	KindConversion   Kind = "CONVERSION"
	KindStore        Kind = "STORE"
	KindCommit       Kind = "COMMIT"
)

// Sentinels matching any error of the given kind through errors.Is.
var (
	ErrProvisioning = &SinkError{Kind: KindProvisioning}
	ErrDecode       = &SinkError{Kind: KindDecode}
	ErrConversion   = &SinkError{Kind: KindConversion}
	ErrStore        = &SinkError{Kind: KindStore}
	ErrCommit       = &SinkError{Kind: KindCommit}
)

// SinkError is the structured error type used by the sink pipeline.
type SinkError struct {
	Kind      Kind
	Message   string
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SinkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SinkError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target is a SinkError of the same kind.
func (e *SinkError) Is(target error) bool {
	var t *SinkError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Wrap creates a SinkError of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *SinkError {
	return &SinkError{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(kind),
	}
}

// KindOf extracts the kind from an error chain.
// Returns empty string if the error is not a SinkError.
func KindOf(err error) Kind {
	var se *SinkError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SinkError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// Bad payloads fail the same way on redelivery; collaborator failures may not.
func isRetryable(kind Kind) bool {
	switch kind {
	case KindProvisioning, KindStore, KindCommit:
		return true
	default:
		return false
	}
}

func NewProvisioningError(message string, cause error) *SinkError {
	return Wrap(KindProvisioning, message, cause)
}

func NewDecodeError(message string, cause error) *SinkError {
	return Wrap(KindDecode, message, cause)
}

func NewConversionError(message string, cause error) *SinkError {
	return Wrap(KindConversion, message, cause)
}

func NewStoreError(message string, cause error) *SinkError {
	return Wrap(KindStore, message, cause)
}

func NewCommitError(message string, cause error) *SinkError {
	return Wrap(KindCommit, message, cause)
}
