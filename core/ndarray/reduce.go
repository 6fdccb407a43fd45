package ndarray

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// Reduction names an axis reduction.
type Reduction string

const (
	ReduceAll    Reduction = "all"
	ReduceAny    Reduction = "any"
	ReduceArgMax Reduction = "argmax"
	ReduceArgMin Reduction = "argmin"
	ReduceMax    Reduction = "max"
	ReduceMean   Reduction = "mean"
	ReduceMedian Reduction = "median"
	ReduceMin    Reduction = "min"
	ReduceProd   Reduction = "prod"
	ReduceSum    Reduction = "sum"
	ReduceStd    Reduction = "std"
	ReduceVar    Reduction = "var"
)

// Reductions lists the reductions the expression language exposes.
var Reductions = []Reduction{
	ReduceAll, ReduceAny, ReduceArgMax, ReduceArgMin, ReduceMax, ReduceMean,
	ReduceMedian, ReduceMin, ReduceProd, ReduceSum, ReduceStd, ReduceVar,
}

// IsReduction reports whether name is one of Reductions.
func IsReduction(name string) bool {
	return slices.Contains(Reductions, Reduction(name))
}

// Reduce collapses the given axes (nil reduces over every axis, giving a
// 0-d result). With skipNaN, NaN values are ignored. all and any treat NaN
// as true and ignore skipNaN. argmin/argmax must use ArgReduce.
func (a *Array) Reduce(kind Reduction, axes []int, skipNaN bool) (*Array, error) {
	fn, dt, err := reducer(kind, a.dtype, skipNaN)
	if err != nil {
		return nil, err
	}
	norm, err := a.normaliseAxes(string(kind), axes)
	if err != nil {
		return nil, err
	}
	r := a.applyAlong(norm, dt, fn)
	return r, nil
}

// ReduceAlong reduces the given axes with a caller-supplied function over
// the gathered values of each output position.
func (a *Array) ReduceAlong(axes []int, dt DType, fn func([]float64) float64) (*Array, error) {
	norm, err := a.normaliseAxes("reduce", axes)
	if err != nil {
		return nil, err
	}
	return a.applyAlong(norm, dt, fn), nil
}

func (a *Array) normaliseAxes(op string, axes []int) ([]int, error) {
	if axes == nil {
		all := make([]int, len(a.shape))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	norm := make([]int, 0, len(axes))
	for _, ax := range axes {
		n := ax
		if n < 0 {
			n += len(a.shape)
		}
		if n < 0 || n >= len(a.shape) {
			return nil, &IndexError{Message: fmt.Sprintf("%s: axis %d is out of bounds for array of dimension %d", op, ax, len(a.shape))}
		}
		if slices.Contains(norm, n) {
			return nil, &IndexError{Message: fmt.Sprintf("%s: duplicate value in axis", op)}
		}
		norm = append(norm, n)
	}
	return norm, nil
}

// applyAlong gathers values sharing the same kept-axis position and folds
// each group with fn.
func (a *Array) applyAlong(axes []int, dt DType, fn func([]float64) float64) *Array {
	var dims []string
	var shape []int
	var keep []int
	for d := range a.shape {
		if !slices.Contains(axes, d) {
			keep = append(keep, d)
			dims = append(dims, a.dims[d])
			shape = append(shape, a.shape[d])
		}
	}

	outSize := product(shape)
	groups := make([][]float64, outSize)
	group := 1
	for _, ax := range axes {
		group *= a.shape[ax]
	}
	for i := range groups {
		groups[i] = make([]float64, 0, group)
	}

	// Output stride of each input axis; reduced axes contribute nothing.
	outStride := make([]int, len(a.shape))
	acc := 1
	for k := len(keep) - 1; k >= 0; k-- {
		outStride[keep[k]] = acc
		acc *= shape[k]
	}

	idx := make([]int, len(a.shape))
	out := 0
	for _, v := range a.data {
		groups[out] = append(groups[out], v)
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			out += outStride[d]
			if idx[d] < a.shape[d] {
				break
			}
			out -= outStride[d] * a.shape[d]
			idx[d] = 0
		}
	}

	data := make([]float64, outSize)
	for i, g := range groups {
		data[i] = normalise(fn(g), dt)
	}
	r := build(dims, shape, data, dt)
	r.nodata, r.hasNoData = a.nodata, a.hasNoData
	return r
}

func reducer(kind Reduction, in DType, skipNaN bool) (func([]float64) float64, DType, error) {
	keepInt := func() DType {
		if in.integral() {
			return Int64
		}
		return Float64
	}
	switch kind {
	case ReduceAll:
		return func(v []float64) float64 {
			for _, x := range v {
				if x == 0 {
					return 0
				}
			}
			return 1
		}, Bool, nil
	case ReduceAny:
		return func(v []float64) float64 {
			for _, x := range v {
				if x != 0 {
					return 1
				}
			}
			return 0
		}, Bool, nil
	case ReduceSum:
		return withNaN(sum, skipNaN), keepInt(), nil
	case ReduceProd:
		return withNaN(prod, skipNaN), keepInt(), nil
	case ReduceMin:
		return withNaN(minOf, skipNaN), in, nil
	case ReduceMax:
		return withNaN(maxOf, skipNaN), in, nil
	case ReduceMean:
		return withNaN(mean, skipNaN), Float64, nil
	case ReduceMedian:
		return withNaN(median, skipNaN), Float64, nil
	case ReduceStd:
		return withNaN(std, skipNaN), Float64, nil
	case ReduceVar:
		return withNaN(variance, skipNaN), Float64, nil
	case ReduceArgMax, ReduceArgMin:
		return nil, Int64, &TypeError{Op: string(kind), Message: "use ArgReduce"}
	}
	return nil, Float64, &TypeError{Op: string(kind), Message: "unknown reduction"}
}

// withNaN wraps fn so that NaN is either skipped or propagated.
func withNaN(fn func([]float64) float64, skip bool) func([]float64) float64 {
	return func(v []float64) float64 {
		clean := v[:0:0]
		for _, x := range v {
			if math.IsNaN(x) {
				if !skip {
					return math.NaN()
				}
				continue
			}
			clean = append(clean, x)
		}
		return fn(clean)
	}
}

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

func prod(v []float64) float64 {
	p := 1.0
	for _, x := range v {
		p *= x
	}
	return p
}

func minOf(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return slices.Min(v)
}

func maxOf(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return slices.Max(v)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return sum(v) / float64(len(v))
}

func variance(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	m := mean(v)
	ss := 0.0
	for _, x := range v {
		d := x - m
		ss += d * d
	}
	return ss / float64(len(v))
}

func std(v []float64) float64 { return math.Sqrt(variance(v)) }

func median(v []float64) float64 {
	n := len(v)
	if n == 0 {
		return math.NaN()
	}
	s := slices.Clone(v)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// ArgReduce returns the position of the extreme value, ignoring NaN. A nil
// axis searches the flattened array and returns a 0-d result. An all-NaN
// slice is a ValueError.
func (a *Array) ArgReduce(kind Reduction, axis *int) (*Array, error) {
	if kind != ReduceArgMax && kind != ReduceArgMin {
		return nil, &TypeError{Op: string(kind), Message: "not an arg reduction"}
	}
	better := func(x, best float64) bool { return x > best }
	if kind == ReduceArgMin {
		better = func(x, best float64) bool { return x < best }
	}

	var failed bool
	fn := func(v []float64) float64 {
		pos := -1
		for i, x := range v {
			if math.IsNaN(x) {
				continue
			}
			if pos < 0 || better(x, v[pos]) {
				pos = i
			}
		}
		if pos < 0 {
			failed = true
			return 0
		}
		return float64(pos)
	}

	var axes []int
	if axis != nil {
		axes = []int{*axis}
	}
	norm, err := a.normaliseAxes(string(kind), axes)
	if err != nil {
		return nil, err
	}
	if len(norm) == 0 && len(a.data) == 1 {
		// 0-d input: the only position is 0.
		return IntScalar(0), nil
	}
	r := a.applyAlong(norm, Int64, fn)
	if failed {
		return nil, &ValueError{Op: string(kind), Message: "all-NaN slice encountered"}
	}
	r.hasNoData = false
	return r, nil
}

// Percentile returns the q-th percentile of all values using linear
// interpolation. Any NaN makes the result NaN.
func (a *Array) Percentile(q float64) (*Array, error) {
	if q < 0 || q > 100 || math.IsNaN(q) {
		return nil, &ValueError{Op: "percentile", Message: fmt.Sprintf("percentile %v must be in the range [0, 100]", q)}
	}
	return Scalar(percentile(a.data, q)), nil
}

func percentile(v []float64, q float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := slices.Clone(v)
	for _, x := range s {
		if math.IsNaN(x) {
			return math.NaN()
		}
	}
	sort.Float64s(s)
	rank := q / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return s[lo]
	}
	frac := rank - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}

// valueReducers backs ReduceValues. Plain names propagate NaN; nan-prefixed
// names skip it.
var valueReducers = map[string]func([]float64) float64{
	"min":     withNaN(minOf, false),
	"amin":    withNaN(minOf, false),
	"nanmin":  withNaN(minOf, true),
	"max":     withNaN(maxOf, false),
	"amax":    withNaN(maxOf, false),
	"nanmax":  withNaN(maxOf, true),
	"ptp":     withNaN(func(v []float64) float64 { return maxOf(v) - minOf(v) }, false),
	"median":  withNaN(median, false),
	"average": withNaN(mean, false),
	"mean":    withNaN(mean, false),
	"nanmean": withNaN(mean, true),
	"std":     withNaN(std, false),
	"nanstd":  withNaN(std, true),
	"var":     withNaN(variance, false),
	"nanvar":  withNaN(variance, true),
	"sum":     withNaN(sum, false),
	"prod":    withNaN(prod, false),
	"argmax":  argPos(func(x, best float64) bool { return x > best }),
	"argmin":  argPos(func(x, best float64) bool { return x < best }),
	"all": func(v []float64) float64 {
		for _, x := range v {
			if x == 0 {
				return 0
			}
		}
		return 1
	},
	"any": func(v []float64) float64 {
		for _, x := range v {
			if x != 0 {
				return 1
			}
		}
		return 0
	},
}

func argPos(better func(x, best float64) bool) func([]float64) float64 {
	return func(v []float64) float64 {
		if len(v) == 0 {
			return math.NaN()
		}
		pos := 0
		for i, x := range v {
			if math.IsNaN(x) {
				return float64(i)
			}
			if better(x, v[pos]) {
				pos = i
			}
		}
		return float64(pos)
	}
}

// ValueReductions returns the names accepted by ReduceValues, sorted.
func ValueReductions() []string {
	names := make([]string, 0, len(valueReducers))
	for n := range valueReducers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasValueReduction reports whether ReduceValues accepts name.
func HasValueReduction(name string) bool {
	_, ok := valueReducers[name]
	return ok
}

// ReduceValues folds a flat list of values with a named numpy-style
// reduction. Empty input yields NaN for every reduction except sum, prod,
// all and any.
func ReduceValues(name string, values []float64) (float64, error) {
	fn, ok := valueReducers[name]
	if !ok {
		return math.NaN(), &ValueError{Op: name, Message: "unsupported reduction"}
	}
	return fn(values), nil
}
