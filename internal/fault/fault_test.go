package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", New(Validation, "bad domain"), Validation},
		{"conflict", Newf(Conflict, "selector %q taken", "default"), Conflict},
		{"wrapped fault", fmt.Errorf("create: %w", New(NotFound, "no such key")), NotFound},
		{"plain error", errors.New("disk full"), Internal},
		{"wrapped cause keeps kind", Wrap(Unavailable, errors.New("timeout"), "dns lookup"), Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := New(PreconditionFailed, "confirmation required")
	if !IsKind(err, PreconditionFailed) {
		t.Error("IsKind should match the error's kind")
	}
	if IsKind(err, Validation) {
		t.Error("IsKind should not match a different kind")
	}
	if IsKind(nil, Internal) {
		t.Error("IsKind(nil) should be false")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Unavailable, cause, "resolver")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if got := err.Error(); got != "resolver: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestKindString(t *testing.T) {
	if got := Conflict.String(); got != "conflict" {
		t.Errorf("Conflict.String() = %q", got)
	}
	if got := Kind(99).String(); got != "internal" {
		t.Errorf("unknown kind String() = %q, want internal", got)
	}
}
