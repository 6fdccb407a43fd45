// Package evaluator runs compiled expression programs over labeled arrays.
//
// Evaluation is a right-to-left stack machine: the last instruction is
// popped and, if it is an operator, its operands are evaluated recursively
// from the instructions before it. Variables come from an explicit Env;
// assignments write back into it.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/runtime/compiler"
	"github.com/opal-lang/datacube/runtime/pqa"
)

// Env binds variable names to arrays.
type Env map[string]*ndarray.Array

// Names returns the bound names in sorted order.
func (e Env) Names() []string {
	names := make([]string, 0, len(e))
	for n := range e {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Evaluator evaluates expressions. It is safe for concurrent use as long as
// callers do not share an Env between concurrent calls.
type Evaluator struct {
	autoExtract bool
	policy      pqa.Policy
	logger      *slog.Logger
	cache       *compiler.Cache
}

// New returns an Evaluator with auto-extract off and the default mask
// policy.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{policy: pqa.DefaultPolicy()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.cache == nil {
		e.cache = compiler.NewCache()
	}
	return e
}

// AutoExtract reports whether the mask operator runs the quality-mask
// builder.
func (e *Evaluator) AutoExtract() bool { return e.autoExtract }

// Evaluate compiles src (once per distinct text) and runs it against env.
func (e *Evaluator) Evaluate(ctx context.Context, src string, env Env) (*ndarray.Array, error) {
	prog, err := e.cache.Get(src)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, prog, env)
}

// Run executes prog against env. A nil env is treated as empty; an
// assignment into a nil env fails.
func (e *Evaluator) Run(ctx context.Context, prog *compiler.Program, env Env) (*ndarray.Array, error) {
	if err := prog.Validate(); err != nil {
		return nil, &EvalError{Message: "invalid program", Err: err}
	}
	m := &machine{
		ctx:  ctx,
		ev:   e,
		prog: prog.Instructions,
		pos:  len(prog.Instructions),
		env:  env,
	}
	v, err := m.array()
	if err != nil {
		return nil, err
	}
	if m.pos != 0 {
		return nil, &EvalError{Message: fmt.Sprintf("%d instructions left on the stack", m.pos)}
	}
	e.logger.Debug("expression evaluated",
		"expr", prog.Source,
		"instructions", len(prog.Instructions),
		"dims", strings.Join(v.Dims(), ","),
		"dtype", v.DType().String())
	return v, nil
}

// operand is a stack value: an array, or a selector produced by the slice
// operators.
type operand struct {
	arr   *ndarray.Array
	sel   ndarray.Selector
	isSel bool
}

type machine struct {
	ctx  context.Context
	ev   *Evaluator
	prog []compiler.Instruction
	pos  int // instructions [0, pos) are still on the stack
	env  Env
}

func (m *machine) pop() (compiler.Instruction, error) {
	if m.pos == 0 {
		return compiler.Instruction{}, &EvalError{Message: "stack underflow"}
	}
	m.pos--
	return m.prog[m.pos], nil
}

// array evaluates the next operand and requires it to be an array.
func (m *machine) array() (*ndarray.Array, error) {
	v, err := m.eval()
	if err != nil {
		return nil, err
	}
	if v.isSel {
		return nil, &EvalError{Op: ":", Message: "a slice is only valid inside index brackets"}
	}
	return v.arr, nil
}

// integer evaluates the next operand as a size-1 array and truncates it.
func (m *machine) integer(op string) (int, error) {
	a, err := m.array()
	if err != nil {
		return 0, err
	}
	v, err := a.Item()
	if err != nil {
		return 0, &EvalError{Op: op, Message: "expected an integer", Err: err}
	}
	return int(v), nil
}

func (m *machine) lookup(name string) (*ndarray.Array, error) {
	if a, ok := m.env[name]; ok && a != nil {
		return a, nil
	}
	return nil, &NameError{Name: name, Suggestion: closest(name, m.env.Names())}
}

func (m *machine) eval() (operand, error) {
	if err := m.ctx.Err(); err != nil {
		return operand{}, err
	}
	in, err := m.pop()
	if err != nil {
		return operand{}, err
	}

	switch in.Op {
	case compiler.OpNumber:
		return operand{arr: literal(in)}, nil

	case compiler.OpName:
		a, err := m.lookup(in.Text)
		return operand{arr: a}, err

	case compiler.OpUnary:
		x, err := m.array()
		if err != nil {
			return operand{}, err
		}
		return wrap(in)(unary(in.Text, x))

	case compiler.OpBinary:
		y, err := m.array()
		if err != nil {
			return operand{}, err
		}
		x, err := m.array()
		if err != nil {
			return operand{}, err
		}
		// A boolean right operand turns + into selection.
		if in.Text == "+" && y.DType() == ndarray.Bool {
			return wrap(in)(ndarray.Where(x, y))
		}
		return wrap(in)(ndarray.Binary(ndarray.Op(in.Text), x, y))

	case compiler.OpFullSlice:
		return operand{sel: ndarray.All(), isSel: true}, nil

	case compiler.OpSlice:
		hi, err := m.integer(":")
		if err != nil {
			return operand{}, err
		}
		lo, err := m.integer(":")
		if err != nil {
			return operand{}, err
		}
		return operand{sel: ndarray.Span(lo, hi), isSel: true}, nil

	case compiler.OpIndex:
		return m.index(in)

	case compiler.OpMask:
		return m.mask(in)

	case compiler.OpTernary:
		return m.ternary(in)

	case compiler.OpAssign:
		return m.assign()

	case compiler.OpReduce:
		return m.reduce(in)

	case compiler.OpCall:
		return m.call(in)
	}
	return operand{}, &EvalError{Op: in.String(), Message: fmt.Sprintf("unexpected %s instruction", in.Op)}
}

func literal(in compiler.Instruction) *ndarray.Array {
	if !strings.ContainsAny(in.Text, ".eE") && math.Abs(in.Value) < 1<<53 && in.Value == math.Trunc(in.Value) {
		return ndarray.IntScalar(int64(in.Value))
	}
	return ndarray.Scalar(in.Value)
}

func unary(op string, x *ndarray.Array) (*ndarray.Array, error) {
	switch op {
	case "-":
		return x.Neg(), nil
	case "~":
		return x.Invert()
	case "!":
		return x.Not(), nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", op)
}

// wrap converts an ndarray result into an operand, attaching the
// instruction to any error.
func wrap(in compiler.Instruction) func(*ndarray.Array, error) (operand, error) {
	return func(a *ndarray.Array, err error) (operand, error) {
		if err != nil {
			return operand{}, &EvalError{Op: in.String(), Err: err}
		}
		return operand{arr: a}, nil
	}
}

func (m *machine) index(in compiler.Instruction) (operand, error) {
	name, err := m.pop()
	if err != nil {
		return operand{}, err
	}
	base, err := m.lookup(name.Text)
	if err != nil {
		return operand{}, err
	}
	sel := make([]ndarray.Selector, in.Argc)
	for i := in.Argc - 1; i >= 0; i-- {
		v, err := m.eval()
		if err != nil {
			return operand{}, err
		}
		if v.isSel {
			sel[i] = v.sel
			continue
		}
		f, err := v.arr.Item()
		if err != nil {
			return operand{}, &EvalError{Op: "[]", Message: "index must be an integer or a slice", Err: err}
		}
		sel[i] = ndarray.At(int(f))
	}
	return wrap(in)(base.Index(sel...))
}

func (m *machine) mask(in compiler.Instruction) (operand, error) {
	name, err := m.pop()
	if err != nil {
		return operand{}, err
	}
	data, err := m.lookup(name.Text)
	if err != nil {
		return operand{}, err
	}
	cond, err := m.array()
	if err != nil {
		return operand{}, err
	}
	if m.ev.autoExtract {
		cond, err = pqa.Mask(cond.Cast(ndarray.Int64), m.ev.policy)
		if err != nil {
			return operand{}, &EvalError{Op: "{}", Message: "quality mask", Err: err}
		}
	}
	return wrap(in)(ndarray.Where(data, cond))
}

// ternary evaluates the condition and exactly one branch. The untaken
// branch is skipped without evaluation.
func (m *machine) ternary(in compiler.Instruction) (operand, error) {
	start := m.pos
	c, err := m.array()
	if err != nil {
		return operand{}, err
	}
	if start-m.pos != in.Cond {
		return operand{}, &EvalError{Op: "?", Message: "condition length mismatch"}
	}
	ok, err := c.Truth()
	if err != nil {
		return operand{}, &EvalError{Op: "?", Err: err}
	}

	thenEnd := m.pos
	elseEnd := thenEnd - in.Then
	if ok {
		v, err := m.eval()
		if err != nil {
			return operand{}, err
		}
		if m.pos != elseEnd {
			return operand{}, &EvalError{Op: "?", Message: "branch length mismatch"}
		}
		m.pos = elseEnd - in.Else
		return v, nil
	}
	m.pos = elseEnd
	v, err := m.eval()
	if err != nil {
		return operand{}, err
	}
	if m.pos != elseEnd-in.Else {
		return operand{}, &EvalError{Op: "?", Message: "branch length mismatch"}
	}
	return v, nil
}

func (m *machine) assign() (operand, error) {
	target, err := m.pop()
	if err != nil {
		return operand{}, err
	}
	v, err := m.array()
	if err != nil {
		return operand{}, err
	}
	if m.env == nil {
		return operand{}, &EvalError{Op: "=", Message: fmt.Sprintf("cannot bind %q: no environment", target.Text)}
	}
	m.env[target.Text] = v
	return operand{arr: v}, nil
}

func (m *machine) reduce(in compiler.Instruction) (operand, error) {
	ar, err := m.pop()
	if err != nil {
		return operand{}, err
	}
	arity := int(ar.Value)
	if arity < 1 || arity > compiler.MaxArity {
		return operand{}, &EvalError{Op: in.Text, Message: fmt.Sprintf("arity %d out of range", arity)}
	}
	axes := make([]int, arity-1)
	for i := len(axes) - 1; i >= 0; i-- {
		if axes[i], err = m.integer(in.Text); err != nil {
			return operand{}, err
		}
	}
	data, err := m.array()
	if err != nil {
		return operand{}, err
	}

	kind := ndarray.Reduction(in.Text)
	if !ndarray.IsReduction(in.Text) {
		return operand{}, &EvalError{Op: in.Text, Message: "unknown reduction"}
	}
	switch kind {
	case ndarray.ReduceArgMax, ndarray.ReduceArgMin:
		var axis *int
		if arity != 1 {
			axis = &axes[0]
		}
		return wrap(in)(data.ArgReduce(kind, axis))
	}
	if arity == 1 {
		axes = nil
	}
	return wrap(in)(data.Reduce(kind, axes, kind != ndarray.ReduceProd))
}

func (m *machine) call(in compiler.Instruction) (operand, error) {
	args := make([]*ndarray.Array, in.Argc)
	for i := in.Argc - 1; i >= 0; i-- {
		a, err := m.array()
		if err != nil {
			return operand{}, err
		}
		args[i] = a
	}

	switch in.Argc {
	case 1:
		if in.Text == "frexp" {
			return wrap(in)(frexp(args[0]))
		}
		if f, ok := unaryFuncs[in.Text]; ok {
			return operand{arr: args[0].Map(f.dtype, f.fn)}, nil
		}
	case 2:
		if in.Text == "percentile" {
			q, err := args[1].Item()
			if err != nil {
				return operand{}, &EvalError{Op: "percentile", Message: "q must be a scalar", Err: err}
			}
			return wrap(in)(args[0].Percentile(q))
		}
		if f, ok := binaryFuncs[in.Text]; ok {
			return wrap(in)(ndarray.Map2(in.Text, args[0], args[1], f.dtype, f.fn))
		}
	}

	msg := fmt.Sprintf("unknown function %s with %d argument(s)", in.Text, in.Argc)
	if s := closest(in.Text, Functions()); s != "" && s != in.Text {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return operand{}, &EvalError{Op: in.Text, Message: msg}
}
