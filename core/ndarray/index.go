package ndarray

import (
	"fmt"
	"slices"
)

type selectorKind uint8

const (
	selectAt selectorKind = iota
	selectRange
	selectAll
)

// Selector picks positions along one axis.
type Selector struct {
	kind   selectorKind
	index  int
	lo, hi int
}

// At selects a single position and drops the axis. Negative positions
// count from the end.
func At(i int) Selector { return Selector{kind: selectAt, index: i} }

// Span selects the half-open range [lo, hi). Bounds follow slice rules:
// negatives count from the end and out-of-range bounds are clamped.
func Span(lo, hi int) Selector { return Selector{kind: selectRange, lo: lo, hi: hi} }

// All keeps the whole axis.
func All() Selector { return Selector{kind: selectAll} }

// IsSlice reports whether the selector keeps its axis.
func (s Selector) IsSlice() bool { return s.kind != selectAt }

func (s Selector) String() string {
	switch s.kind {
	case selectAt:
		return fmt.Sprintf("%d", s.index)
	case selectRange:
		return fmt.Sprintf("%d:%d", s.lo, s.hi)
	default:
		return ":"
	}
}

// bounds resolves the selector against an axis of length n.
func (s Selector) bounds(axis, n int) (lo, hi int, err error) {
	switch s.kind {
	case selectAll:
		return 0, n, nil
	case selectAt:
		i := s.index
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return 0, 0, &IndexError{Axis: axis, Index: s.index, Length: n}
		}
		return i, i + 1, nil
	default:
		lo, hi = clampSlice(s.lo, n), clampSlice(s.hi, n)
		if hi < lo {
			hi = lo
		}
		return lo, hi, nil
	}
}

func clampSlice(i, n int) int {
	if i < 0 {
		i += n
		if i < 0 {
			return 0
		}
	}
	if i > n {
		return n
	}
	return i
}

// Index applies one selector per leading axis; axes without a selector are
// kept whole. Integer selectors drop their axis.
func (a *Array) Index(sel ...Selector) (*Array, error) {
	if len(sel) > len(a.shape) {
		return nil, &IndexError{Message: fmt.Sprintf("too many indices: array is %d-dimensional, but %d were indexed", len(a.shape), len(sel))}
	}

	los := make([]int, len(a.shape))
	counts := make([]int, len(a.shape))
	var dims []string
	var shape []int
	for d := range a.shape {
		s := All()
		if d < len(sel) {
			s = sel[d]
		}
		lo, hi, err := s.bounds(d, a.shape[d])
		if err != nil {
			return nil, err
		}
		los[d], counts[d] = lo, hi-lo
		if s.IsSlice() {
			dims = append(dims, a.dims[d])
			shape = append(shape, hi-lo)
		}
	}

	out := make([]float64, 0, product(counts))
	st := a.strides()
	idx := make([]int, len(a.shape))
	if product(counts) > 0 {
		for {
			off := 0
			for d := range idx {
				off += (los[d] + idx[d]) * st[d]
			}
			out = append(out, a.data[off])

			d := len(idx) - 1
			for ; d >= 0; d-- {
				idx[d]++
				if idx[d] < counts[d] {
					break
				}
				idx[d] = 0
			}
			if d < 0 {
				break
			}
		}
	}

	r := build(dims, shape, out, a.dtype)
	r.nodata, r.hasNoData = a.nodata, a.hasNoData
	return r, nil
}

// Select indexes by dimension name, keeping unnamed axes whole.
func (a *Array) Select(byName map[string]Selector) (*Array, error) {
	sel := make([]Selector, len(a.dims))
	for i, d := range a.dims {
		sel[i] = All()
		if s, ok := byName[d]; ok {
			sel[i] = s
		}
	}
	for name := range byName {
		if !slices.Contains(a.dims, name) {
			return nil, &IndexError{Message: fmt.Sprintf("no dimension named %q", name)}
		}
	}
	return a.Index(sel...)
}

// Stack joins same-shaped arrays along a new leading dimension.
func Stack(dim string, arrays ...*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, &ShapeError{Op: "stack", Message: "need at least one array"}
	}
	first := arrays[0]
	if slices.Contains(first.dims, dim) {
		return nil, &ShapeError{Op: "stack", Message: fmt.Sprintf("dimension %q already present", dim)}
	}
	data := make([]float64, 0, len(first.data)*len(arrays))
	dt := first.dtype
	for _, a := range arrays {
		if !a.SameShape(first) {
			return nil, &ShapeError{
				Op:      "stack",
				Message: fmt.Sprintf("%v%v does not match %v%v", a.dims, a.shape, first.dims, first.shape),
			}
		}
		if a.dtype != dt {
			dt = Float64
		}
		data = append(data, a.data...)
	}
	r := build(append([]string{dim}, first.dims...), append([]int{len(arrays)}, first.shape...), data, dt)
	r.nodata, r.hasNoData = first.nodata, first.hasNoData
	return r, nil
}
