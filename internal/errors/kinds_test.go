package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_WrappedError(t *testing.T) {
	base := fmt.Errorf("connection refused")
	err := Backend(base)

	if got := KindOf(err); got != KindBackend {
		t.Errorf("expected KindBackend, got %s", got)
	}

	wrapped := fmt.Errorf("enqueue failed: %w", err)
	if got := KindOf(wrapped); got != KindBackend {
		t.Errorf("expected KindBackend through fmt.Errorf wrap, got %s", got)
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("expected plain errors to classify as KindInternal, got %s", got)
	}
}

func TestIs(t *testing.T) {
	err := NotFound("job %s not found", "abc123")
	if !Is(err, KindNotFound) {
		t.Error("expected Is(err, KindNotFound) to be true")
	}
	if Is(err, KindConflict) {
		t.Error("expected Is(err, KindConflict) to be false")
	}
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("pool exhausted")
	err := ResourceExhausted("acquire timed out")
	err.Err = base

	if !errors.Is(err, base) {
		t.Error("expected errors.Is to see through Unwrap")
	}
}

func TestError_WithField(t *testing.T) {
	err := Validation("invalid priority %d", 99).WithField("priority", 99)
	if err.Fields["priority"] != 99 {
		t.Errorf("expected field priority=99, got %v", err.Fields["priority"])
	}
}
