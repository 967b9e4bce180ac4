// Package coreerr defines the error taxonomy shared by every core component.
// Components wrap failures in a CoreError so adapters can map them to their
// native error channels without re-deriving the failure kind from message text.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy members from the error handling design.
type Kind string

const (
	InvalidInput        Kind = "invalid-input"
	NotInitialized       Kind = "not-initialized"
	NotImplemented       Kind = "not-implemented"
	Timeout              Kind = "timeout"
	CapacityExceeded     Kind = "capacity-exceeded"
	TransientContention  Kind = "transient-contention"
	PersistentIO         Kind = "persistent-io"
	FKViolation          Kind = "fk-violation"
	SchemaMismatch       Kind = "schema-mismatch"
	DependencyFailed     Kind = "dependency-failed"
)

// CoreError wraps an underlying error with a taxonomy kind and the
// component/operation that produced it.
type CoreError struct {
	Kind      Kind
	Component string
	Op        string
	Err       error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Op, e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is matches by Kind so callers can do errors.Is(err, coreerr.Timeout.Sentinel()).
func (e *CoreError) Is(target error) bool {
	var ce *CoreError
	if errors.As(target, &ce) {
		return ce.Kind == e.Kind
	}
	return false
}

// New constructs a CoreError.
func New(kind Kind, component, op string, err error) *CoreError {
	return &CoreError{Kind: kind, Component: component, Op: op, Err: err}
}

// Sentinel returns a bare CoreError of this kind, usable with errors.Is.
func (k Kind) Sentinel() *CoreError {
	return &CoreError{Kind: k}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is a CoreError.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// Retryable reports whether the kind is one the §4.3/§7 retry policy covers.
func (k Kind) Retryable() bool {
	return k == TransientContention
}
