package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError represents an error recovered from a panic
type PanicError struct {
	Value      interface{} // The panic value
	Stacktrace string      // Full stack trace
}

// Error implements the error interface
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// RecoverPanic recovers from a panic and returns it as an error with stack trace
// Returns nil if no panic occurred
func RecoverPanic() error {
	if r := recover(); r != nil {
		return &PanicError{
			Value:      r,
			Stacktrace: string(debug.Stack()),
		}
	}
	return nil
}

// Recover must be deferred directly, e.g. `defer errors.Recover(handle)`,
// never wrapped in another closure: recover() only stops a panic when
// called directly by the deferred function, and wrapping it one level
// deeper silently fails to catch anything. handle runs with the
// recovered panic only if one occurred.
func Recover(handle func(*PanicError)) {
	if r := recover(); r != nil {
		handle(&PanicError{
			Value:      r,
			Stacktrace: string(debug.Stack()),
		})
	}
}

// FormatPanicForLog returns a formatted string suitable for logging
func FormatPanicForLog(panicErr *PanicError) string {
	return fmt.Sprintf("PANIC: %v\n\nStack Trace:\n%s", panicErr.Value, panicErr.Stacktrace)
}
