// Package invariant provides contract assertions used across the datacube
// packages.
//
// A failed assertion is a programming error in this module, never bad user
// input: parse and evaluation failures are reported through ordinary error
// returns. Every helper panics with a "<KIND> VIOLATION" message that names
// the call site.
package invariant

import (
	"fmt"
	"reflect"
	"runtime"
)

// Precondition checks a caller contract at function entry.
//
//	func Reduce(a *Array, axes []int) *Array {
//	    invariant.Precondition(len(axes) <= a.NDim(), "too many axes")
//	    ...
//	}
func Precondition(condition bool, format string, args ...any) {
	if !condition {
		fail("PRECONDITION", format, args...)
	}
}

// Postcondition checks a result before it is returned.
func Postcondition(condition bool, format string, args ...any) {
	if !condition {
		fail("POSTCONDITION", format, args...)
	}
}

// Invariant checks internal consistency, e.g. stack depth while running a
// compiled program.
func Invariant(condition bool, format string, args ...any) {
	if !condition {
		fail("INVARIANT", format, args...)
	}
}

// NotNil panics if value is nil, including typed nil pointers, maps and
// slices.
func NotNil(value any, name string) {
	if value == nil || isNil(value) {
		fail("PRECONDITION", "%s must not be nil", name)
	}
}

func isNil(value any) bool {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// InRange panics if value is outside [minVal, maxVal].
func InRange(value, minVal, maxVal int, name string) {
	if value < minVal || value > maxVal {
		fail("PRECONDITION", "%s must be in range [%d, %d], got %d", name, minVal, maxVal, value)
	}
}

// SameLength panics if a buffer does not hold exactly want elements.
// Array constructors use it to tie a data slice to its shape.
func SameLength(got, want int, name string) {
	if got != want {
		fail("INVARIANT", "%s has %d elements, shape requires %d", name, got, want)
	}
}

// ExpectNoError panics if err is non-nil. Use it for operations whose
// inputs were already validated.
func ExpectNoError(err error, msg string) {
	if err != nil {
		fail("POSTCONDITION", "%s must not fail: %v", msg, err)
	}
}

func fail(kind, format string, args ...any) {
	msg := fmt.Sprintf("%s VIOLATION: %s", kind, fmt.Sprintf(format, args...))

	pc := make([]uintptr, 4)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	if frame, ok := frames.Next(); ok {
		msg += fmt.Sprintf("\n  at %s:%d", frame.File, frame.Line)
	}
	panic(msg)
}
