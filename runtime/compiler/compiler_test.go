package compiler

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/datacube/core/ast"
	"github.com/opal-lang/datacube/runtime/parser"
)

func TestCompilePostfix(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ndvi", "((b40 - b30) / (b40 + b30))", "b40 b30 - b40 b30 + /"},
		{"precedence", "a + b * c", "a b c * +"},
		{"negative literal", "x * -2", "x -2 *"},
		{"unary minus", "-(a + b)", "a b + unary -"},
		{"invert", "~m", "m unary ~"},
		{"reduction all axes", "mean(x)", "x 1 mean"},
		{"reduction with axes", "1 + var(z1, 0, 0+1, 2) + 1", "1 z1 0 0 1 + 2 4 var + 1 +"},
		{"call", "arctan2(z1, z2)", "z1 z2 arctan2"},
		{"index", "z1[0, :, 1:3]", "0 :: 1 3 : z1 []"},
		{"mask", "z1{z1 > 2}", "z1 2 > z1 {}"},
		{"ternary", "(c ? a ; b)", "b a c ?"},
		{"assign", "m = x + 1", "x 1 + m ="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CompileString(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
			assert.Equal(t, tt.input, p.Source)
			require.NoError(t, p.Validate())
		})
	}
}

func TestCompileInstructions(t *testing.T) {
	p, err := CompileString("(x > 0 ? x ; -x)")
	require.NoError(t, err)

	want := []Instruction{
		{Op: OpName, Text: "x"},
		{Op: OpUnary, Text: "-"},
		{Op: OpName, Text: "x"},
		{Op: OpName, Text: "x"},
		{Op: OpNumber, Text: "0", Value: 0},
		{Op: OpBinary, Text: ">"},
		{Op: OpTernary, Text: "?", Cond: 3, Then: 1, Else: 2},
	}
	if diff := cmp.Diff(want, p.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileIndexArgc(t *testing.T) {
	p, err := CompileString("x[1, :]")
	require.NoError(t, err)
	last := p.Instructions[p.Len()-1]
	assert.Equal(t, OpIndex, last.Op)
	assert.Equal(t, 2, last.Argc)
}

func TestProgramNames(t *testing.T) {
	p, err := CompileString("m = b40[0, :] + b30{b30 > 0} + b40")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"b30", "b40"}, p.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileRejectsMalformedTree(t *testing.T) {
	tests := []struct {
		name string
		node ast.Node
		msg  string
	}{
		{"nil", nil, "nil expression"},
		{"arity mismatch", &ast.Reduction{Name: "sum", Data: &ast.Ident{Name: "x"}, Arity: 3}, "arity 3 does not match 0 axes"},
		{"too many args", &ast.Call{Name: "f", Args: make([]ast.Node, 5)}, "f takes 1 to 4 arguments"},
		{"empty index", &ast.Index{Name: "x"}, "index without selectors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.node)
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCompileStringParseError(t *testing.T) {
	_, err := CompileString("(a + b")
	assert.ErrorIs(t, err, parser.ErrSyntax)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		prog []Instruction
		msg  string
	}{
		{"empty", nil, "empty program"},
		{"underflow", []Instruction{{Op: OpName, Text: "x"}, {Op: OpBinary, Text: "+"}}, "stack underflow"},
		{"leftover", []Instruction{{Op: OpName, Text: "x"}, {Op: OpName, Text: "y"}}, "left unconsumed"},
		{"bare arity", []Instruction{{Op: OpArity, Value: 1}}, "arity outside a reduction"},
		{"reduce without arity", []Instruction{{Op: OpName, Text: "x"}, {Op: OpReduce, Text: "sum"}}, "reduction without arity"},
		{"index on number", []Instruction{{Op: OpNumber, Value: 1}, {Op: OpNumber, Value: 2}, {Op: OpIndex, Argc: 1}}, "index base must be a name"},
		{"ternary too long", []Instruction{{Op: OpName, Text: "x"}, {Op: OpTernary, Cond: 1, Then: 1, Else: 1}}, "ternary branches exceed program"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Program{Instructions: tt.prog}).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCacheCompilesOnce(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	progs := make([]*Program, 8)
	for i := range progs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.Get("b40 - b30")
			assert.NoError(t, err)
			progs[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, c.Len())
	first, err := c.Get("b40 - b30")
	require.NoError(t, err)
	for _, p := range progs {
		assert.Same(t, first, p)
	}

	_, err = c.Get("b40 -")
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())
}
