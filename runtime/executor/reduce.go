package executor

import (
	"context"
	"fmt"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/core/plan"
)

func supportedReduction(name string) bool {
	return name != "" && ndarray.HasValueReduction(name)
}

// present returns the values of v that are not the no-data value.
func present(v []float64, nodata float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if x != nodata {
			out = append(out, x)
		}
	}
	return out
}

// reduceValues folds the present values of v; empty and NaN results become
// nodata.
func reduceValues(name string, v []float64, nodata float64) (float64, error) {
	vals := present(v, nodata)
	if len(vals) == 0 {
		return nodata, nil
	}
	r, err := ndarray.ReduceValues(name, vals)
	if err != nil {
		return nodata, err
	}
	if math.IsNaN(r) {
		return nodata, nil
	}
	return r, nil
}

// reduction collapses one dimension, or all dimensions but
// Output.DimensionsOrder[0] when two are named.
func (x *Executor) reduction(ctx context.Context, t *plan.Task) (*Entry, error) {
	if len(t.Inputs) == 0 {
		return nil, fmt.Errorf("reduction task has no inputs")
	}
	src, err := x.input(t, t.Inputs[0])
	if err != nil {
		return nil, err
	}
	data, err := first(t, t.Inputs[0], src)
	if err != nil {
		return nil, err
	}
	name := t.ReductionName()
	nodata := t.Output.NoDataValue

	var out *ndarray.Array
	switch len(t.Dimension) {
	case 1:
		axis, err := axisOf(data, src, t.Dimension[0])
		if err != nil {
			return nil, err
		}
		var ferr error
		out, err = data.ReduceAlong([]int{axis}, ndarray.Float64, func(v []float64) float64 {
			r, err := reduceValues(name, v, nodata)
			if err != nil && ferr == nil {
				ferr = err
			}
			return r
		})
		if err != nil {
			return nil, err
		}
		if ferr != nil {
			return nil, ferr
		}
	case 2:
		if len(t.Output.DimensionsOrder) == 0 {
			return nil, fmt.Errorf("two-axis reduction needs array_output.dimensions_order")
		}
		axis, err := axisOf(data, src, t.Output.DimensionsOrder[0])
		if err != nil {
			return nil, err
		}
		if out, err = x.reduceKeeping(ctx, data, axis, name, nodata); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("reduction needs one or two dimensions, got %d", len(t.Dimension))
	}

	e := derived(t, src, out)
	e.Dimensions = slices.Clone(t.Output.DimensionsOrder)
	if len(e.Dimensions) == 0 {
		e.Dimensions = out.Dims()
	}
	for k := range e.Indices {
		if !slices.Contains(e.Dimensions, k) {
			delete(e.Indices, k)
		}
	}
	return e, nil
}

// reduceKeeping reduces every axis except keep, one output value per
// position along keep, computed in parallel.
func (x *Executor) reduceKeeping(ctx context.Context, data *ndarray.Array, keep int, name string, nodata float64) (*ndarray.Array, error) {
	shape := data.Shape()
	dim := data.Dims()[keep]
	size := shape[keep]
	values := make([]float64, size)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(x.parallelism)
	for i := 0; i < size; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sel := make([]ndarray.Selector, len(shape))
			for d := range sel {
				sel[d] = ndarray.All()
			}
			sel[keep] = ndarray.At(i)
			slice, err := data.Index(sel...)
			if err != nil {
				return err
			}
			values[i], err = reduceValues(name, slice.Values(), nodata)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ndarray.New([]string{dim}, []int{size}, values)
}

// axisOf finds a dimension by array dim name, falling back to the entry's
// dimension list.
func axisOf(a *ndarray.Array, e *Entry, dim string) (int, error) {
	if i := a.Axis(dim); i >= 0 {
		return i, nil
	}
	if i := slices.Index(e.Dimensions, dim); i >= 0 && i < a.NDim() {
		return i, nil
	}
	return 0, &ndarray.IndexError{Message: fmt.Sprintf("no dimension named %q in %v", dim, a.Dims())}
}
