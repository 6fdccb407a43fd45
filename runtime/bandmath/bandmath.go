// Package bandmath evaluates numeric expressions pixel by pixel.
//
// Unlike runtime/evaluator, which works on whole arrays, a band-math
// expression is compiled with expr-lang against scalar float64 variables
// and run once per broadcast element. The syntax is expr-lang's: arithmetic,
// comparison, "and"/"or"/"not", the ternary "c ? a : b", and the helper
// functions listed in Functions.
package bandmath

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	"github.com/opal-lang/datacube/core/ndarray"
)

// DefaultMaxExpressionLength bounds expression text accepted by Compile.
const DefaultMaxExpressionLength = 4096

// ErrBandMath is wrapped by every error from this package.
var ErrBandMath = errors.New("band math")

// Expression is a compiled band-math expression.
type Expression struct {
	source  string
	program *vm.Program
	names   []string
}

// Source returns the expression text.
func (e *Expression) Source() string { return e.source }

// Names returns the sorted variables the expression reads.
func (e *Expression) Names() []string { return append([]string(nil), e.names...) }

// Compile compiles src with every name in names declared as a float64
// variable. Referencing any other identifier is a compile error.
func Compile(src string, names []string) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrBandMath)
	}
	if len(src) > DefaultMaxExpressionLength {
		return nil, fmt.Errorf("%w: expression exceeds maximum length of %d characters", ErrBandMath, DefaultMaxExpressionLength)
	}

	env := make(map[string]any, len(names))
	for _, n := range names {
		env[n] = float64(0)
	}
	opts := append([]expr.Option{expr.Env(env)}, functionOptions()...)
	program, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: compile expression %q: %w", ErrBandMath, src, err)
	}

	collector := &identCollector{declared: env, names: map[string]bool{}}
	node := program.Node()
	ast.Walk(&node, collector)

	used := make([]string, 0, len(collector.names))
	for n := range collector.names {
		used = append(used, n)
	}
	sort.Strings(used)
	return &Expression{source: src, program: program, names: used}, nil
}

type identCollector struct {
	declared map[string]any
	names    map[string]bool
}

func (c *identCollector) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		if _, declared := c.declared[id.Value]; declared {
			c.names[id.Value] = true
		}
	}
}

// Eval broadcasts the referenced arrays to a common shape and runs the
// expression once per element. Numeric results give a Float64 array,
// boolean results a Bool array.
func (e *Expression) Eval(ctx context.Context, vars map[string]*ndarray.Array) (*ndarray.Array, error) {
	arrays := make([]*ndarray.Array, len(e.names))
	for i, n := range e.names {
		a, ok := vars[n]
		if !ok || a == nil {
			return nil, fmt.Errorf("%w: variable %q is not bound", ErrBandMath, n)
		}
		arrays[i] = a
	}

	dims, shape := []string{}, []int{}
	size := 1
	columns := make([][]float64, len(arrays))
	if len(arrays) > 0 {
		aligned, err := ndarray.BroadcastAll(arrays...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBandMath, err)
		}
		dims, shape, size = aligned[0].Dims(), aligned[0].Shape(), aligned[0].Size()
		for i, a := range aligned {
			columns[i] = a.Values()
		}
	}

	env := make(map[string]any, len(e.names))
	out := make([]float64, size)
	dtype := ndarray.Float64
	var machine vm.VM
	for i := 0; i < size; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j, n := range e.names {
			env[n] = columns[j][i]
		}
		res, err := machine.Run(e.program, env)
		if err != nil {
			return nil, fmt.Errorf("%w: evaluate %q at element %d: %w", ErrBandMath, e.source, i, err)
		}
		v, isBool, err := toFloat(res)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrBandMath, e.source, err)
		}
		if i == 0 && isBool {
			dtype = ndarray.Bool
		} else if isBool != (dtype == ndarray.Bool) {
			return nil, fmt.Errorf("%w: %q mixes boolean and numeric results", ErrBandMath, e.source)
		}
		out[i] = v
	}
	return ndarray.NewTyped(dims, shape, out, dtype)
}

func toFloat(v any) (float64, bool, error) {
	switch x := v.(type) {
	case float64:
		return x, false, nil
	case float32:
		return float64(x), false, nil
	case int:
		return float64(x), false, nil
	case int64:
		return float64(x), false, nil
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	case nil:
		return math.NaN(), false, nil
	}
	return 0, false, fmt.Errorf("result has unsupported type %T", v)
}

// Evaluator compiles expressions once per (text, variable set) and
// evaluates them.
type Evaluator struct {
	mu       sync.RWMutex
	compiled map[string]*Expression
}

// NewEvaluator returns an Evaluator with an empty cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{compiled: make(map[string]*Expression)}
}

// Evaluate compiles src against the names in vars and evaluates it.
func (ev *Evaluator) Evaluate(ctx context.Context, src string, vars map[string]*ndarray.Array) (*ndarray.Array, error) {
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	key := src + "\x00" + strings.Join(names, ",")

	ev.mu.RLock()
	e, ok := ev.compiled[key]
	ev.mu.RUnlock()
	if !ok {
		var err error
		if e, err = Compile(src, names); err != nil {
			return nil, err
		}
		ev.mu.Lock()
		ev.compiled[key] = e
		ev.mu.Unlock()
	}
	return e.Eval(ctx, vars)
}

// Len returns the number of cached expressions.
func (ev *Evaluator) Len() int {
	ev.mu.RLock()
	defer ev.mu.RUnlock()
	return len(ev.compiled)
}
