package evaluator

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/runtime/compiler"
	"github.com/opal-lang/datacube/runtime/pqa"
)

var nan = math.NaN()

func grid(t *testing.T, values ...float64) *ndarray.Array {
	t.Helper()
	a, err := ndarray.New([]string{"y", "x"}, []int{2, 2}, values)
	require.NoError(t, err)
	return a
}

func cube(t *testing.T) *ndarray.Array {
	t.Helper()
	data := make([]float64, 2*3*4)
	for i := range data {
		data[i] = float64(i)
	}
	a, err := ndarray.New([]string{"time", "y", "x"}, []int{2, 3, 4}, data)
	require.NoError(t, err)
	return a
}

func eval(t *testing.T, e *Evaluator, src string, env Env) *ndarray.Array {
	t.Helper()
	v, err := e.Evaluate(context.Background(), src, env)
	require.NoError(t, err, "evaluate %q", src)
	return v
}

func assertValues(t *testing.T, want []float64, got *ndarray.Array) {
	t.Helper()
	if diff := cmp.Diff(want, got.Values(), cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestArithmeticMatchesDirectOps(t *testing.T) {
	x := grid(t, 1, 2, 3, 4)
	y := grid(t, 10, 20, 30, 40)
	env := Env{"x": x, "y": y}
	e := New()

	tests := []struct {
		expr string
		op   ndarray.Op
		rhs  *ndarray.Array
	}{
		{"x + y", ndarray.Add, y},
		{"x - y", ndarray.Sub, y},
		{"x * 3", ndarray.Mul, ndarray.IntScalar(3)},
		{"x / 2.5", ndarray.Div, ndarray.Scalar(2.5)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			want, err := ndarray.Binary(tt.op, x, tt.rhs)
			require.NoError(t, err)
			got := eval(t, e, tt.expr, env)
			assertValues(t, want.Values(), got)
			assert.Equal(t, want.Dims(), got.Dims())
		})
	}
}

func TestOperators(t *testing.T) {
	env := Env{
		"a": grid(t, 1, 2, 3, 4),
		"b": grid(t, 4, 3, 2, 1),
	}
	e := New()
	tests := []struct {
		expr string
		want []float64
	}{
		{"a ^ 2", []float64{1, 4, 9, 16}},
		{"2 ^ 3 ^ 2", []float64{512}},
		{"a > b", []float64{0, 0, 1, 1}},
		{"a >= 2 & a <= 3", []float64{0, 1, 1, 0}},
		{"a == 1 | b == 1", []float64{1, 0, 0, 1}},
		{"a != b", []float64{1, 1, 1, 1}},
		{"-a", []float64{-1, -2, -3, -4}},
		{"-(a - b)", []float64{3, 1, -1, -3}},
		{"~(a > 2)", []float64{1, 1, 0, 0}},
		{"!a > 2", []float64{1, 1, 0, 0}},
		{"((a - b) / (a + b))", []float64{-0.6, -0.2, 0.2, 0.6}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assertValues(t, tt.want, eval(t, e, tt.expr, env))
		})
	}
}

func TestPlusBoolSelects(t *testing.T) {
	env := Env{"x": grid(t, 1, 2, 3, 4)}
	got := eval(t, New(), "x + (x > 2)", env)
	assert.Equal(t, ndarray.Float64, got.DType())
	assertValues(t, []float64{nan, nan, 3, 4}, got)

	// A numeric right operand still adds.
	got = eval(t, New(), "x + 1", env)
	assertValues(t, []float64{2, 3, 4, 5}, got)
}

func TestMask(t *testing.T) {
	m, err := ndarray.FromBools([]string{"y", "x"}, []int{2, 2}, []bool{true, false, true, false})
	require.NoError(t, err)
	env := Env{"x": grid(t, 1, 2, 3, 4), "m": m}

	got := eval(t, New(), "x{m}", env)
	assertValues(t, []float64{1, nan, 3, nan}, got)

	got = eval(t, New(), "x{~m}", env)
	assertValues(t, []float64{nan, 2, nan, 4}, got)

	got = eval(t, New(), "x{x > 1 & x < 4}", env)
	assertValues(t, []float64{nan, 2, 3, nan}, got)
}

func TestMaskAutoExtract(t *testing.T) {
	const good = 32767
	cloudy := float64(good &^ (1 << pqa.CloudACCABit))
	pq, err := ndarray.New([]string{"time", "y", "x"}, []int{2, 1, 2}, []float64{good, good, cloudy, good})
	require.NoError(t, err)
	data, err := ndarray.New([]string{"time", "y", "x"}, []int{2, 1, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)

	e := New(WithAutoExtract(true), WithMaskPolicy(pqa.Policy{GoodValues: []int64{good}, Dilation: 1}))
	assert.True(t, e.AutoExtract())
	got := eval(t, e, "data{pq}", Env{"data": data, "pq": pq})
	assertValues(t, []float64{1, 2, nan, nan}, got)
}

func TestReductions(t *testing.T) {
	x := cube(t)
	env := Env{"x": x}
	e := New()

	tests := []struct {
		expr string
		kind ndarray.Reduction
		axes []int
	}{
		{"mean(x)", ndarray.ReduceMean, nil},
		{"mean(x, 0)", ndarray.ReduceMean, []int{0}},
		{"mean(x, 0, 1)", ndarray.ReduceMean, []int{0, 1}},
		{"sum(x, 1, 2)", ndarray.ReduceSum, []int{1, 2}},
		{"max(x, 2)", ndarray.ReduceMax, []int{2}},
		{"std(x, 0)", ndarray.ReduceStd, []int{0}},
		{"median(x, 0, 1, 2)", ndarray.ReduceMedian, []int{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			want, err := x.Reduce(tt.kind, tt.axes, true)
			require.NoError(t, err)
			got := eval(t, e, tt.expr, env)
			assert.Equal(t, want.Dims(), got.Dims())
			assertValues(t, want.Values(), got)
		})
	}
}

func TestReductionSkipsNaN(t *testing.T) {
	env := Env{"x": grid(t, 1, nan, 3, 5)}
	got := eval(t, New(), "mean(x)", env)
	assertValues(t, []float64{3}, got)

	got = eval(t, New(), "prod(x)", env)
	assert.True(t, math.IsNaN(got.Values()[0]), "prod does not skip NaN")
}

func TestReductionAxisExpression(t *testing.T) {
	x := cube(t)
	want, err := x.Reduce(ndarray.ReduceVar, []int{0, 1, 2}, true)
	require.NoError(t, err)
	got := eval(t, New(), "1 + var(x, 0, 0+1, 2) + 1", Env{"x": x})
	assertValues(t, []float64{want.Values()[0] + 2}, got)
}

func TestArgReductions(t *testing.T) {
	env := Env{"x": grid(t, 5, 1, 2, 9)}
	e := New()
	assertValues(t, []float64{3}, eval(t, e, "argmax(x)", env))
	assertValues(t, []float64{1}, eval(t, e, "argmin(x)", env))
	assertValues(t, []float64{1, 0}, eval(t, e, "argmin(x, 1)", env))
	assertValues(t, []float64{0, 1}, eval(t, e, "argmax(x, 0)", env))
}

func TestTernaryShortCircuit(t *testing.T) {
	e := New()
	got := eval(t, e, "(1 < 0 ? undefined_var ; 5)", Env{})
	assertValues(t, []float64{5}, got)

	got = eval(t, e, "(1 > 0 ? 7 ; undefined_var)", Env{})
	assertValues(t, []float64{7}, got)

	got = eval(t, e, "(x > 0 ? x * 2 ; -x) + 1", Env{"x": ndarray.Scalar(-3)})
	assertValues(t, []float64{4}, got)

	_, err := e.Evaluate(context.Background(), "(x > 0 ? 1 ; 2)", Env{"x": grid(t, 1, 2, 3, 4)})
	var te *ndarray.TypeError
	assert.ErrorAs(t, err, &te)
}

func TestIndexing(t *testing.T) {
	x := cube(t)
	env := Env{"x": x, "i": ndarray.IntScalar(1)}
	e := New()

	tests := []struct {
		expr  string
		dims  []string
		shape []int
	}{
		{"x[0]", []string{"y", "x"}, []int{3, 4}},
		{"x[0, :, 1:3]", []string{"y", "x"}, []int{3, 2}},
		{"x[:, i, :]", []string{"time", "x"}, []int{2, 4}},
		{"x[1, 2, 3]", nil, nil},
		{"x[-1, 0:1]", []string{"y", "x"}, []int{1, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got := eval(t, e, tt.expr, env)
			assert.Equal(t, len(tt.dims), got.NDim())
			if tt.dims != nil {
				assert.Equal(t, tt.dims, got.Dims())
				assert.Equal(t, tt.shape, got.Shape())
			}
		})
	}

	got := eval(t, e, "x[1, 2, 3]", env)
	assertValues(t, []float64{23}, got)

	_, err := e.Evaluate(context.Background(), "x[5]", env)
	var ie *ndarray.IndexError
	assert.ErrorAs(t, err, &ie)
}

func TestAssignment(t *testing.T) {
	env := Env{"x": grid(t, 1, 2, 3, 4)}
	got := eval(t, New(), "m = x * 2", env)
	assertValues(t, []float64{2, 4, 6, 8}, got)
	require.Contains(t, env, "m")
	assertValues(t, []float64{2, 4, 6, 8}, env["m"])

	_, err := New().Evaluate(context.Background(), "m = 1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestFunctions(t *testing.T) {
	env := Env{
		"x": grid(t, 0, 1, 4, 9),
		"y": grid(t, 1, 1, 2, 3),
	}
	e := New()
	tests := []struct {
		expr string
		want []float64
	}{
		{"sqrt(x)", []float64{0, 1, 2, 3}},
		{"square(y)", []float64{1, 1, 4, 9}},
		{"sign(x - 1)", []float64{-1, 0, 1, 1}},
		{"isnan(x / 0)", []float64{1, 0, 0, 0}},
		{"maximum(x, y)", []float64{1, 1, 4, 9}},
		{"hypot(3 * y, 4 * y)", []float64{5, 5, 10, 15}},
		{"logicalnot(x, y)", []float64{1, 0, 0, 0}},
		{"logicalxor(x, y > 1)", []float64{0, 1, 0, 0}},
		{"fmod(x, y)", []float64{0, 0, 0, 0}},
		{"percentile(x, 50)", []float64{2.5}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assertValues(t, tt.want, eval(t, e, tt.expr, env))
		})
	}

	got := eval(t, e, "frexp(y)", env)
	assert.Equal(t, []string{"component", "y", "x"}, got.Dims())
	assert.Equal(t, []int{2, 2, 2}, got.Shape())
	assertValues(t, []float64{0.5, 0.5, 0.5, 0.75, 1, 1, 2, 2}, got)
}

func TestNameError(t *testing.T) {
	env := Env{"b40": grid(t, 1, 2, 3, 4), "b30": grid(t, 1, 2, 3, 4)}
	_, err := New().Evaluate(context.Background(), "b40 - b41", env)
	require.Error(t, err)

	var ne *NameError
	require.True(t, errors.As(err, &ne), "want *NameError, got %T", err)
	assert.Equal(t, "b41", ne.Name)
	assert.NotEmpty(t, ne.Suggestion)
	assert.ErrorIs(t, err, ErrEvaluation)
	assert.Contains(t, err.Error(), "did you mean")
}

func TestEvaluationErrors(t *testing.T) {
	a, err := ndarray.New([]string{"x"}, []int{3}, []float64{1, 2, 3})
	require.NoError(t, err)
	b, err := ndarray.New([]string{"x"}, []int{2}, []float64{1, 2})
	require.NoError(t, err)
	env := Env{"a": a, "b": b}

	_, err = New().Evaluate(context.Background(), "a + b", env)
	var se *ndarray.ShapeError
	assert.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrEvaluation)

	_, err = New().Evaluate(context.Background(), "sqrtt(a)", env)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, err.Error(), "unknown function sqrtt")

	_, err = New().Evaluate(context.Background(), "a | 1.5", env)
	var te *ndarray.TypeError
	assert.ErrorAs(t, err, &te)
}

func TestRunRejectsMalformedProgram(t *testing.T) {
	prog := &compiler.Program{Instructions: []compiler.Instruction{
		{Op: compiler.OpName, Text: "x"},
		{Op: compiler.OpBinary, Text: "+"},
	}}
	_, err := New().Run(context.Background(), prog, Env{"x": ndarray.Scalar(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Evaluate(ctx, "1 + 2", Env{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSharedCache(t *testing.T) {
	c := compiler.NewCache()
	e1 := New(WithCache(c))
	e2 := New(WithCache(c), WithAutoExtract(true))
	eval(t, e1, "x * 2", Env{"x": ndarray.Scalar(1)})
	eval(t, e2, "x * 2", Env{"x": ndarray.Scalar(2)})
	assert.Equal(t, 1, c.Len())
}
