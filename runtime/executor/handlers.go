package executor

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/core/plan"
	"github.com/opal-lang/datacube/runtime/evaluator"
	"github.com/opal-lang/datacube/runtime/gdf"
	"github.com/opal-lang/datacube/runtime/pqa"
)

// input returns the cached result an input names.
func (x *Executor) input(t *plan.Task, name string) (*Entry, error) {
	e, ok := x.get(name)
	if !ok {
		return nil, &MissingInputError{Task: t.Name, Input: name}
	}
	return e, nil
}

// inputs resolves every input of t, in order.
func (x *Executor) inputs(t *plan.Task) ([]*Entry, error) {
	if len(t.Inputs) == 0 {
		return nil, fmt.Errorf("%s task has no inputs", t.Kind)
	}
	out := make([]*Entry, len(t.Inputs))
	for i, name := range t.Inputs {
		e, err := x.input(t, name)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// first returns the first array of an input entry.
func first(t *plan.Task, name string, e *Entry) (*ndarray.Array, error) {
	a := e.Array()
	if a == nil {
		return nil, fmt.Errorf("input %q of %s has no arrays", name, t.Name)
	}
	return a, nil
}

// derived builds the entry of a task whose metadata follows its first
// input.
func derived(t *plan.Task, src *Entry, result *ndarray.Array) *Entry {
	e := &Entry{
		Result:     map[string]*ndarray.Array{t.Name: result},
		Indices:    make(map[string][]float64, len(src.Indices)),
		Dimensions: slices.Clone(src.Dimensions),
		Output:     t.Output,
	}
	for k, v := range src.Indices {
		e.Indices[k] = slices.Clone(v)
	}
	return e
}

func alias(i int) string { return fmt.Sprintf("array%d", i+1) }

func (x *Executor) getData(ctx context.Context, t *plan.Task) (*Entry, error) {
	if t.Fetch == nil {
		return nil, fmt.Errorf("get_data task has no fetch section")
	}
	resp, err := x.source.GetData(ctx, gdf.RequestFor(t.Fetch))
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Result:     make(map[string]*ndarray.Array, len(resp.Arrays)),
		Indices:    make(map[string][]float64, len(resp.Indices)),
		Dimensions: slices.Clone(resp.Dimensions),
		Output:     t.Output,
	}
	for k, v := range resp.Arrays {
		e.Result[k] = v.Clone()
	}
	for k, v := range resp.Indices {
		e.Indices[k] = slices.Clone(v)
	}
	return e, nil
}

// expression evaluates t.Function with each input bound under its task
// name and as array1..N. Values equal to the task's no-data value become
// NaN first.
func (x *Executor) expression(ctx context.Context, t *plan.Task) (*Entry, error) {
	ins, err := x.inputs(t)
	if err != nil {
		return nil, err
	}
	env := evaluator.Env{}
	for i, name := range t.Inputs {
		a, err := first(t, name, ins[i])
		if err != nil {
			return nil, err
		}
		masked := a.MaskValue(t.Output.NoDataValue)
		env[alias(i)] = masked
		env[name] = masked
	}

	ev := evaluator.New(
		evaluator.WithAutoExtract(true),
		evaluator.WithMaskPolicy(x.policy),
		evaluator.WithCache(x.programs),
		evaluator.WithLogger(x.logger),
	)
	out, err := ev.Evaluate(ctx, t.Function, env)
	if err != nil {
		return nil, err
	}
	return derived(t, ins[0], out), nil
}

// bandMath merges the arrays of every input and evaluates t.Function per
// pixel. Pixels that are no-data in any merged array, or NaN in the
// result, are written as the no-data value.
func (x *Executor) bandMath(ctx context.Context, t *plan.Task) (*Entry, error) {
	ins, err := x.inputs(t)
	if err != nil {
		return nil, err
	}
	merged := map[string]*ndarray.Array{}
	for _, e := range ins {
		maps.Copy(merged, e.Result)
	}
	vars := maps.Clone(merged)
	for i, name := range t.Inputs {
		a, err := first(t, name, ins[i])
		if err != nil {
			return nil, err
		}
		vars[name] = a
		vars[alias(i)] = a
	}

	out, err := x.bandmath.Evaluate(ctx, t.Function, vars)
	if err != nil {
		return nil, err
	}

	nodata := t.Output.NoDataValue
	bad := out.Map(ndarray.Bool, func(v float64) float64 {
		if math.IsNaN(v) {
			return 1
		}
		return 0
	})
	for _, name := range slices.Sorted(maps.Keys(merged)) {
		if bad, err = ndarray.Binary(ndarray.Or, bad, merged[name].Equal(nodata)); err != nil {
			return nil, err
		}
	}
	kept, err := ndarray.Where(out, bad.Not())
	if err != nil {
		return nil, err
	}
	return derived(t, ins[0], kept.FillNaN(nodata)), nil
}

// cloudMask keeps the pixels of the first input whose quality code in the
// t.Mask result passes the mask policy.
func (x *Executor) cloudMask(_ context.Context, t *plan.Task) (*Entry, error) {
	ins, err := x.inputs(t)
	if err != nil {
		return nil, err
	}
	data, err := first(t, t.Inputs[0], ins[0])
	if err != nil {
		return nil, err
	}
	if t.Mask == "" {
		return nil, fmt.Errorf("cloud_mask task has no array_mask")
	}
	me, err := x.input(t, t.Mask)
	if err != nil {
		return nil, err
	}
	quality, err := first(t, t.Mask, me)
	if err != nil {
		return nil, err
	}

	valid, err := pqa.Mask(quality.Cast(ndarray.Int64), x.policy)
	if err != nil {
		return nil, err
	}
	kept, err := ndarray.Where(data, valid)
	if err != nil {
		return nil, err
	}
	return derived(t, ins[0], kept.FillNaN(t.Output.NoDataValue)), nil
}
