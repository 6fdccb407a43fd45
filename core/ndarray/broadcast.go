package ndarray

import (
	"fmt"
	"slices"
)

// layout is the common result space of a set of broadcast operands.
type layout struct {
	dims    []string
	shape   []int
	strides [][]int // per operand, per result axis; 0 on broadcast axes
}

// align computes the name-aligned result space of the operands. Result
// dims are the first operand's dims followed by dims first seen in later
// operands, in order.
func align(op string, arrays ...*Array) (*layout, error) {
	var dims []string
	sizes := map[string]int{}
	for _, a := range arrays {
		for i, d := range a.dims {
			n := a.shape[i]
			if prev, ok := sizes[d]; ok {
				if prev != n {
					return nil, &ShapeError{
						Op:      op,
						Message: fmt.Sprintf("dimension %q has length %d and %d", d, prev, n),
					}
				}
				continue
			}
			sizes[d] = n
			dims = append(dims, d)
		}
	}

	l := &layout{dims: dims, shape: make([]int, len(dims))}
	for i, d := range dims {
		l.shape[i] = sizes[d]
	}
	for _, a := range arrays {
		own := a.strides()
		st := make([]int, len(dims))
		for i, d := range dims {
			if j := slices.Index(a.dims, d); j >= 0 {
				st[i] = own[j]
			}
		}
		l.strides = append(l.strides, st)
	}
	return l, nil
}

func (l *layout) size() int { return product(l.shape) }

// walk calls fn once per result element with the element offset into each
// operand, in row-major result order.
func (l *layout) walk(fn func(out int, offs []int)) {
	n := l.size()
	if n == 0 {
		return
	}
	idx := make([]int, len(l.shape))
	offs := make([]int, len(l.strides))
	for out := 0; out < n; out++ {
		fn(out, offs)
		for d := len(l.shape) - 1; d >= 0; d-- {
			idx[d]++
			for k := range offs {
				offs[k] += l.strides[k][d]
			}
			if idx[d] < l.shape[d] {
				break
			}
			for k := range offs {
				offs[k] -= l.strides[k][d] * l.shape[d]
			}
			idx[d] = 0
		}
	}
}

// BroadcastAll expands every operand to the shared name-aligned shape.
func BroadcastAll(arrays ...*Array) ([]*Array, error) {
	if len(arrays) == 0 {
		return nil, nil
	}
	l, err := align("broadcast", arrays...)
	if err != nil {
		return nil, err
	}
	bufs := make([][]float64, len(arrays))
	for k := range bufs {
		bufs[k] = make([]float64, l.size())
	}
	l.walk(func(out int, offs []int) {
		for k, a := range arrays {
			bufs[k][out] = a.data[offs[k]]
		}
	})
	res := make([]*Array, len(arrays))
	for k, a := range arrays {
		r := build(slices.Clone(l.dims), slices.Clone(l.shape), bufs[k], a.dtype)
		r.nodata, r.hasNoData = a.nodata, a.hasNoData
		res[k] = r
	}
	return res, nil
}
