package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestWrapKeepsKind(t *testing.T) {
	err := Wrap(ErrConflict, "slug %q taken", "a")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err.Error() != `conflict: slug "a" taken` {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWrapErrKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := WrapErr(ErrTransport, "fetch transcript", cause)
	if !errors.Is(err, ErrTransport) {
		t.Error("expected ErrTransport")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotFound, "not_found"},
		{fmt.Errorf("outer: %w", ErrTimeout), "timeout"},
		{context.DeadlineExceeded, "timeout"},
		{Wrap(ErrTransport, "boom"), "transport"},
		{ErrSchema, "schema"},
		{ErrValidation, "validation"},
		{ErrConflict, "conflict"},
		{ErrWriter, "writer"},
		{ErrGeneration, "generation"},
		{context.Canceled, "canceled"},
		{errors.New("other"), "internal"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v): expected %q, got %q", tc.err, tc.want, got)
		}
	}
}
