// Package ndarray implements the labeled N-dimensional arrays that every
// datacube operation consumes and produces.
//
// An Array has ordered, named dimensions, a row-major float64 buffer, a
// dtype tag and an optional no-data sentinel. Arrays are immutable: every
// operation returns a new Array and never writes into its operands.
// Broadcasting aligns operands by dimension name rather than position.
package ndarray

import (
	"fmt"
	"math"
	"slices"

	"github.com/opal-lang/datacube/core/invariant"
)

// DType tags how the float64 storage of an Array is interpreted.
type DType uint8

const (
	Float64 DType = iota // IEEE float, NaN marks missing values
	Int64                // integral values stored exactly
	Bool                 // 0 or 1
)

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// ParseDType parses the names produced by DType.String.
func ParseDType(s string) (DType, error) {
	switch s {
	case "float64", "float", "":
		return Float64, nil
	case "int64", "int":
		return Int64, nil
	case "bool":
		return Bool, nil
	}
	return Float64, fmt.Errorf("unknown dtype %q", s)
}

// integral reports whether arithmetic on the dtype stays integral.
func (d DType) integral() bool {
	return d == Int64 || d == Bool
}

// Array is an immutable labeled N-dimensional array. The zero value is not
// usable; construct arrays with New, Scalar or one of the typed helpers.
type Array struct {
	dims      []string
	shape     []int
	data      []float64
	dtype     DType
	nodata    float64
	hasNoData bool
}

// New builds a Float64 array. A nil dims slice assigns the default names
// dim_0, dim_1, ... The data slice is copied.
func New(dims []string, shape []int, data []float64) (*Array, error) {
	return NewTyped(dims, shape, data, Float64)
}

// NewTyped is New with an explicit dtype. Int64 and Bool data is
// normalised (truncated, or mapped to 0/1).
func NewTyped(dims []string, shape []int, data []float64, dtype DType) (*Array, error) {
	if dims == nil {
		dims = DefaultDims(len(shape))
	}
	if len(dims) != len(shape) {
		return nil, &ShapeError{Op: "new", Message: fmt.Sprintf("%d dimension names for %d axes", len(dims), len(shape))}
	}
	seen := make(map[string]bool, len(dims))
	for i, d := range dims {
		if d == "" {
			return nil, &ShapeError{Op: "new", Message: fmt.Sprintf("axis %d has an empty name", i)}
		}
		if seen[d] {
			return nil, &ShapeError{Op: "new", Message: fmt.Sprintf("duplicate dimension %q", d)}
		}
		seen[d] = true
	}
	for i, n := range shape {
		if n < 0 {
			return nil, &ShapeError{Op: "new", Message: fmt.Sprintf("axis %d has negative length %d", i, n)}
		}
	}
	if size := product(shape); size != len(data) {
		return nil, &ShapeError{Op: "new", Message: fmt.Sprintf("shape %v needs %d values, got %d", shape, size, len(data))}
	}

	buf := make([]float64, len(data))
	for i, v := range data {
		buf[i] = normalise(v, dtype)
	}
	return build(slices.Clone(dims), slices.Clone(shape), buf, dtype), nil
}

// MustNew is New for literals in tests and examples.
func MustNew(dims []string, shape []int, data []float64) *Array {
	a, err := New(dims, shape, data)
	invariant.ExpectNoError(err, "ndarray.New")
	return a
}

// FromInts builds an Int64 array.
func FromInts(dims []string, shape []int, data []int64) (*Array, error) {
	buf := make([]float64, len(data))
	for i, v := range data {
		buf[i] = float64(v)
	}
	return NewTyped(dims, shape, buf, Int64)
}

// FromBools builds a Bool array.
func FromBools(dims []string, shape []int, data []bool) (*Array, error) {
	buf := make([]float64, len(data))
	for i, v := range data {
		if v {
			buf[i] = 1
		}
	}
	return NewTyped(dims, shape, buf, Bool)
}

// Scalar returns a 0-d Float64 array.
func Scalar(v float64) *Array {
	return build(nil, nil, []float64{v}, Float64)
}

// IntScalar returns a 0-d Int64 array.
func IntScalar(v int64) *Array {
	return build(nil, nil, []float64{float64(v)}, Int64)
}

// BoolScalar returns a 0-d Bool array.
func BoolScalar(v bool) *Array {
	if v {
		return build(nil, nil, []float64{1}, Bool)
	}
	return build(nil, nil, []float64{0}, Bool)
}

// Full returns an array of the given shape filled with v.
func Full(dims []string, shape []int, v float64, dtype DType) (*Array, error) {
	data := make([]float64, product(shape))
	for i := range data {
		data[i] = v
	}
	return NewTyped(dims, shape, data, dtype)
}

// DefaultDims returns dim_0 .. dim_{n-1}.
func DefaultDims(n int) []string {
	dims := make([]string, n)
	for i := range dims {
		dims[i] = fmt.Sprintf("dim_%d", i)
	}
	return dims
}

// build wraps already-owned buffers without validation.
func build(dims []string, shape []int, data []float64, dtype DType) *Array {
	invariant.SameLength(len(data), product(shape), "array data")
	if dims == nil {
		dims = []string{}
	}
	if shape == nil {
		shape = []int{}
	}
	return &Array{dims: dims, shape: shape, data: data, dtype: dtype}
}

func normalise(v float64, dtype DType) float64 {
	switch dtype {
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	case Int64:
		return toInt(v)
	default:
		return v
	}
}

// toInt truncates like a C cast; NaN and infinities map to the minimum
// int64, matching what numpy's astype produces on common platforms.
func toInt(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v >= 9.223372036854775807e18 || v < -9.223372036854775808e18 {
		return -9.223372036854775808e18
	}
	return math.Trunc(v)
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Dims returns a copy of the dimension names.
func (a *Array) Dims() []string { return slices.Clone(a.dims) }

// Shape returns a copy of the axis lengths.
func (a *Array) Shape() []int { return slices.Clone(a.shape) }

// NDim returns the number of axes.
func (a *Array) NDim() int { return len(a.shape) }

// Size returns the number of elements.
func (a *Array) Size() int { return len(a.data) }

// DType returns the element type tag.
func (a *Array) DType() DType { return a.dtype }

// Values returns a copy of the row-major data.
func (a *Array) Values() []float64 { return slices.Clone(a.data) }

// Ints returns the data truncated to int64.
func (a *Array) Ints() []int64 {
	out := make([]int64, len(a.data))
	for i, v := range a.data {
		out[i] = int64(toInt(v))
	}
	return out
}

// Bools returns the data as truth values (non-zero, including NaN, is true).
func (a *Array) Bools() []bool {
	out := make([]bool, len(a.data))
	for i, v := range a.data {
		out[i] = v != 0
	}
	return out
}

// IsScalar reports whether the array is 0-d.
func (a *Array) IsScalar() bool { return len(a.shape) == 0 }

// Item returns the single value of a size-1 array.
func (a *Array) Item() (float64, error) {
	if len(a.data) != 1 {
		return 0, &TypeError{Op: "item", Message: fmt.Sprintf("can only convert an array of size 1, got size %d", len(a.data))}
	}
	return a.data[0], nil
}

// At returns the element at the given multi-index.
func (a *Array) At(idx ...int) float64 {
	invariant.Precondition(len(idx) == len(a.shape), "At needs %d indices, got %d", len(a.shape), len(idx))
	off := 0
	for d, i := range idx {
		invariant.InRange(i, 0, a.shape[d]-1, a.dims[d])
		off = off*a.shape[d] + i
	}
	return a.data[off]
}

// Axis returns the position of a named dimension, or -1.
func (a *Array) Axis(name string) int {
	return slices.Index(a.dims, name)
}

// NoData returns the no-data sentinel, if one is set.
func (a *Array) NoData() (float64, bool) { return a.nodata, a.hasNoData }

// WithNoData returns a copy of the array carrying the sentinel v.
func (a *Array) WithNoData(v float64) *Array {
	out := a.clone()
	out.nodata, out.hasNoData = v, true
	return out
}

// Rename returns a copy with new dimension names.
func (a *Array) Rename(dims []string) (*Array, error) {
	out, err := NewTyped(dims, a.shape, a.data, a.dtype)
	if err != nil {
		return nil, err
	}
	out.nodata, out.hasNoData = a.nodata, a.hasNoData
	return out, nil
}

// Reshape returns a copy with new dims and shape over the same values.
func (a *Array) Reshape(dims []string, shape []int) (*Array, error) {
	out, err := NewTyped(dims, shape, a.data, a.dtype)
	if err != nil {
		return nil, err
	}
	out.nodata, out.hasNoData = a.nodata, a.hasNoData
	return out, nil
}

func (a *Array) clone() *Array {
	return &Array{
		dims:      slices.Clone(a.dims),
		shape:     slices.Clone(a.shape),
		data:      slices.Clone(a.data),
		dtype:     a.dtype,
		nodata:    a.nodata,
		hasNoData: a.hasNoData,
	}
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array { return a.clone() }

// strides returns row-major element strides.
func (a *Array) strides() []int {
	st := make([]int, len(a.shape))
	acc := 1
	for d := len(a.shape) - 1; d >= 0; d-- {
		st[d] = acc
		acc *= a.shape[d]
	}
	return st
}

// SameShape reports whether both arrays have identical dims and shape.
func (a *Array) SameShape(b *Array) bool {
	return slices.Equal(a.dims, b.dims) && slices.Equal(a.shape, b.shape)
}
