package invariant_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opal-lang/datacube/core/invariant"
)

func panicMessage(t *testing.T, fn func()) (msg string) {
	t.Helper()
	defer func() {
		r := recover()
		if r != nil {
			msg = fmt.Sprintf("%v", r)
		}
	}()
	fn()
	return ""
}

func TestAssertionsPass(t *testing.T) {
	shape := []int{2, 3}
	assert.NotPanics(t, func() {
		invariant.Precondition(len(shape) == 2, "two dims")
		invariant.Postcondition(true, "ok")
		invariant.Invariant(1 < 2, "ordered")
		invariant.NotNil(shape, "shape")
		invariant.InRange(1, 0, 1, "axis")
		invariant.SameLength(6, 6, "data")
		invariant.ExpectNoError(nil, "noop")
	})
}

func TestAssertionsFail(t *testing.T) {
	var nilMap map[string]int
	tests := []struct {
		name string
		fn   func()
		want []string
	}{
		{
			name: "precondition",
			fn:   func() { invariant.Precondition(false, "axis %d out of bounds", 4) },
			want: []string{"PRECONDITION VIOLATION", "axis 4 out of bounds", "at "},
		},
		{
			name: "postcondition",
			fn:   func() { invariant.Postcondition(false, "result must be 0-d") },
			want: []string{"POSTCONDITION VIOLATION", "result must be 0-d"},
		},
		{
			name: "invariant",
			fn:   func() { invariant.Invariant(false, "stack underflow") },
			want: []string{"INVARIANT VIOLATION", "stack underflow"},
		},
		{
			name: "nil interface",
			fn:   func() { invariant.NotNil(nil, "env") },
			want: []string{"env must not be nil"},
		},
		{
			name: "typed nil",
			fn:   func() { invariant.NotNil(nilMap, "cache") },
			want: []string{"cache must not be nil"},
		},
		{
			name: "range",
			fn:   func() { invariant.InRange(5, 0, 2, "axis") },
			want: []string{"axis must be in range [0, 2], got 5"},
		},
		{
			name: "length",
			fn:   func() { invariant.SameLength(5, 6, "data") },
			want: []string{"data has 5 elements, shape requires 6"},
		},
		{
			name: "error",
			fn:   func() { invariant.ExpectNoError(errors.New("boom"), "compile") },
			want: []string{"compile must not fail: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := panicMessage(t, tt.fn)
			for _, w := range tt.want {
				assert.Contains(t, msg, w)
			}
		})
	}
}
