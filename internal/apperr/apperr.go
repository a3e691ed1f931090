// Package apperr defines the failure kinds shared by generation and enhancement.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrTransport  = errors.New("transport failure")
	ErrTimeout    = errors.New("timed out")
	ErrSchema     = errors.New("schema mismatch")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrWriter     = errors.New("writer failed")
	ErrGeneration = errors.New("generation failed")
)

// Wrap annotates err with kind so that errors.Is(result, kind) holds.
// The original error stays reachable through errors.Unwrap chains.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// WrapErr marks cause as belonging to kind.
func WrapErr(kind error, msg string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, cause)
}

// Kind returns the machine-readable failure kind used in logs and job records.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrWriter):
		return "writer"
	case errors.Is(err, ErrGeneration):
		return "generation"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
