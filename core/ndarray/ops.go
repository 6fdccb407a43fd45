package ndarray

import (
	"fmt"
	"math"
	"slices"
)

// Op names a binary elementwise operator.
type Op string

const (
	Add Op = "+"
	Sub Op = "-"
	Mul Op = "*"
	Div Op = "/"
	Pow Op = "^"
	Lt  Op = "<"
	Le  Op = "<="
	Gt  Op = ">"
	Ge  Op = ">="
	Eq  Op = "=="
	Ne  Op = "!="
	Or  Op = "|"
	And Op = "&"
)

// Binary applies op elementwise with name-aligned broadcasting.
func Binary(op Op, a, b *Array) (*Array, error) {
	switch op {
	case Add, Sub, Mul:
		dt := Float64
		if a.dtype.integral() && b.dtype.integral() {
			dt = Int64
		}
		return Map2(string(op), a, b, dt, arith(op))
	case Div:
		return Map2(string(op), a, b, Float64, func(x, y float64) float64 { return x / y })
	case Pow:
		if a.dtype.integral() && b.dtype.integral() {
			for _, v := range b.data {
				if v < 0 {
					return nil, &TypeError{Op: "^", Message: "integers to negative integer powers are not allowed"}
				}
			}
			return Map2(string(op), a, b, Int64, math.Pow)
		}
		return Map2(string(op), a, b, Float64, math.Pow)
	case Lt, Le, Gt, Ge, Eq, Ne:
		return Map2(string(op), a, b, Bool, compare(op))
	case Or, And:
		switch {
		case a.dtype == Bool && b.dtype == Bool:
			if op == Or {
				return Map2(string(op), a, b, Bool, func(x, y float64) float64 { return truth(x != 0 || y != 0) })
			}
			return Map2(string(op), a, b, Bool, func(x, y float64) float64 { return truth(x != 0 && y != 0) })
		case a.dtype.integral() && b.dtype.integral():
			return Map2(string(op), a, b, Int64, bitwise(op))
		default:
			return nil, &TypeError{
				Op:      string(op),
				Message: fmt.Sprintf("unsupported operand types %s and %s", a.dtype, b.dtype),
			}
		}
	}
	return nil, &TypeError{Op: string(op), Message: "unknown operator"}
}

func arith(op Op) func(x, y float64) float64 {
	switch op {
	case Add:
		return func(x, y float64) float64 { return x + y }
	case Sub:
		return func(x, y float64) float64 { return x - y }
	default:
		return func(x, y float64) float64 { return x * y }
	}
}

func compare(op Op) func(x, y float64) float64 {
	switch op {
	case Lt:
		return func(x, y float64) float64 { return truth(x < y) }
	case Le:
		return func(x, y float64) float64 { return truth(x <= y) }
	case Gt:
		return func(x, y float64) float64 { return truth(x > y) }
	case Ge:
		return func(x, y float64) float64 { return truth(x >= y) }
	case Eq:
		return func(x, y float64) float64 { return truth(x == y) }
	default:
		return func(x, y float64) float64 { return truth(x != y) }
	}
}

func bitwise(op Op) func(x, y float64) float64 {
	if op == Or {
		return func(x, y float64) float64 { return float64(int64(x) | int64(y)) }
	}
	return func(x, y float64) float64 { return float64(int64(x) & int64(y)) }
}

func truth(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Map applies fn to every element, producing an array of dtype dt with
// the same dims.
func (a *Array) Map(dt DType, fn func(float64) float64) *Array {
	out := make([]float64, len(a.data))
	for i, v := range a.data {
		out[i] = normalise(fn(v), dt)
	}
	r := build(slices.Clone(a.dims), slices.Clone(a.shape), out, dt)
	r.nodata, r.hasNoData = a.nodata, a.hasNoData
	return r
}

// Map2 applies fn to each pair of broadcast elements. The name is used in
// shape errors.
func Map2(name string, a, b *Array, dt DType, fn func(x, y float64) float64) (*Array, error) {
	l, err := align(name, a, b)
	if err != nil {
		return nil, err
	}
	out := make([]float64, l.size())
	l.walk(func(i int, offs []int) {
		out[i] = normalise(fn(a.data[offs[0]], b.data[offs[1]]), dt)
	})
	r := build(l.dims, l.shape, out, dt)
	r.nodata, r.hasNoData = a.nodata, a.hasNoData
	return r, nil
}

// Neg returns the elementwise negation.
func (a *Array) Neg() *Array {
	dt := a.dtype
	if dt == Bool {
		dt = Int64
	}
	return a.Map(dt, func(v float64) float64 { return -v })
}

// Invert is the "~" operator: logical not on Bool, two's complement on
// Int64. Float64 operands are rejected.
func (a *Array) Invert() (*Array, error) {
	switch a.dtype {
	case Bool:
		return a.Map(Bool, func(v float64) float64 { return truth(v == 0) }), nil
	case Int64:
		return a.Map(Int64, func(v float64) float64 { return float64(^int64(v)) }), nil
	}
	return nil, &TypeError{Op: "~", Message: "bitwise not is not supported for float64"}
}

// Not is elementwise logical negation; the result is Bool.
func (a *Array) Not() *Array {
	return a.Map(Bool, func(v float64) float64 { return truth(v == 0) })
}

// Cast converts the array to another dtype.
func (a *Array) Cast(dt DType) *Array {
	if dt == a.dtype {
		return a.clone()
	}
	return a.Map(dt, func(v float64) float64 { return v })
}

// Where keeps elements of a where cond is true and sets NaN elsewhere. The
// result is always Float64.
func Where(a, cond *Array) (*Array, error) {
	return Map2("where", a, cond, Float64, func(x, c float64) float64 {
		if c != 0 {
			return x
		}
		return math.NaN()
	})
}

// FillNaN replaces NaN with v.
func (a *Array) FillNaN(v float64) *Array {
	return a.Map(a.dtype, func(x float64) float64 {
		if math.IsNaN(x) {
			return v
		}
		return x
	})
}

// Equal returns a Bool mask of elements equal to v.
func (a *Array) Equal(v float64) *Array {
	return a.Map(Bool, func(x float64) float64 { return truth(x == v) })
}

// MaskValue replaces every element equal to v with NaN. The result is
// Float64; it is how no-data sentinels become missing values.
func (a *Array) MaskValue(v float64) *Array {
	return a.Map(Float64, func(x float64) float64 {
		if x == v {
			return math.NaN()
		}
		return x
	})
}

// Truth returns the truth value of a size-1 array.
func (a *Array) Truth() (bool, error) {
	if len(a.data) != 1 {
		return false, &TypeError{
			Op:      "truth",
			Message: "the truth value of an array with more than one element is ambiguous",
		}
	}
	return a.data[0] != 0, nil
}

// CountTrue returns the number of non-zero elements.
func (a *Array) CountTrue() int {
	n := 0
	for _, v := range a.data {
		if v != 0 {
			n++
		}
	}
	return n
}
