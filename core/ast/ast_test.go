package ast_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/opal-lang/datacube/core/ast"
)

func ndvi() ast.Node {
	b40 := &ast.Ident{Name: "b40"}
	b30 := &ast.Ident{Name: "b30"}
	return &ast.Binary{
		Op: "/",
		X:  &ast.Binary{Op: "-", X: b40, Y: b30},
		Y:  &ast.Binary{Op: "+", X: b40, Y: b30},
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		node ast.Node
		want string
	}{
		{"binary", ndvi(), "((b40 - b30) / (b40 + b30))"},
		{"unary", &ast.Unary{Op: "-", X: &ast.Ident{Name: "x"}}, "-x"},
		{"unary nested", &ast.Unary{Op: "~", X: ndvi()}, "~(((b40 - b30) / (b40 + b30)))"},
		{"index", &ast.Index{Name: "z", Indices: []ast.Node{
			&ast.Number{Value: 0, Text: "0"},
			&ast.FullSlice{},
			&ast.Slice{Lo: &ast.Number{Value: 1}, Hi: &ast.Number{Value: 3}},
		}}, "z[0, :, 1:3]"},
		{"mask", &ast.Mask{Name: "ndvi", Predicate: &ast.Ident{Name: "pq"}}, "ndvi{pq}"},
		{"ternary", &ast.Ternary{
			Cond: &ast.Binary{Op: "<", X: &ast.Number{Value: 1}, Y: &ast.Number{Value: 0}},
			Then: &ast.Ident{Name: "a"},
			Else: &ast.Number{Value: 5},
		}, "((1 < 0) ? a ; 5)"},
		{"reduction", &ast.Reduction{Name: "median", Data: &ast.Ident{Name: "x"}, Axes: []ast.Node{&ast.Number{Value: 0}}, Arity: 2}, "median(x, 0)"},
		{"assign", &ast.Assign{Name: "m", Value: &ast.Call{Name: "sqrt", Args: []ast.Node{&ast.Ident{Name: "x"}}}}, "m = sqrt(x)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.node.String())
		})
	}
}

func TestNames(t *testing.T) {
	node := &ast.Assign{
		Name: "out",
		Value: &ast.Binary{
			Op: "+",
			X:  &ast.Mask{Name: "ndvi", Predicate: &ast.Ident{Name: "pq"}},
			Y:  &ast.Index{Name: "z", Indices: []ast.Node{&ast.Ident{Name: "i"}}},
		},
	}
	if diff := cmp.Diff([]string{"i", "ndvi", "pq", "z"}, ast.Names(node)); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestWalkSkipsChildren(t *testing.T) {
	var kinds []ast.Kind
	ast.Walk(ndvi(), func(n ast.Node) bool {
		kinds = append(kinds, n.Kind())
		return n.Kind() != ast.KindBinary || len(kinds) == 1
	})
	assert.Equal(t, []ast.Kind{ast.KindBinary, ast.KindBinary, ast.KindBinary}, kinds)
	assert.Equal(t, "reduction", ast.KindReduction.String())
}
