package errors

import (
	"strings"
	"testing"
)

func TestRecoverPanic_CapturesValueAndStack(t *testing.T) {
	err := func() (err error) {
		defer func() {
			err = RecoverPanic()
		}()
		panic("boom")
	}()

	if err == nil {
		t.Fatal("expected a non-nil error from a recovered panic")
	}
	pe, ok := err.(*PanicError)
	if !ok {
		t.Fatalf("expected *PanicError, got %T", err)
	}
	if pe.Value != "boom" {
		t.Errorf("expected panic value %q, got %v", "boom", pe.Value)
	}
	if pe.Stacktrace == "" {
		t.Error("expected a non-empty stack trace")
	}
}

func TestRecover_HandlesPanicWhenDeferredDirectly(t *testing.T) {
	var handled *PanicError
	func() {
		defer Recover(func(pe *PanicError) {
			handled = pe
		})
		panic("kaboom")
	}()

	if handled == nil {
		t.Fatal("expected Recover's handle callback to run")
	}
	if handled.Value != "kaboom" {
		t.Errorf("expected panic value %q, got %v", "kaboom", handled.Value)
	}
}

func TestRecover_HandleNotCalledWithoutPanic(t *testing.T) {
	called := false
	func() {
		defer Recover(func(pe *PanicError) {
			called = true
		})
	}()

	if called {
		t.Error("expected handle to be skipped when no panic occurred")
	}
}

func TestFormatPanicForLog_IncludesValueAndStack(t *testing.T) {
	pe := &PanicError{Value: "oops", Stacktrace: "goroutine 1 [running]:"}
	out := FormatPanicForLog(pe)

	if !strings.Contains(out, "oops") {
		t.Errorf("expected formatted output to contain panic value, got %q", out)
	}
	if !strings.Contains(out, "goroutine 1") {
		t.Errorf("expected formatted output to contain stack trace, got %q", out)
	}
}
