// Package ast defines the syntax tree of the array expression language.
//
// The tree is a tagged union: every node implements Node and reports its
// Kind. Nodes are produced by runtime/parser and consumed by
// runtime/compiler; they carry source positions for diagnostics but no
// evaluation state.
package ast

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Position is a source location.
type Position struct {
	Offset int // byte offset
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Kind tags the concrete node type.
type Kind uint8

const (
	KindNumber Kind = iota
	KindIdent
	KindUnary
	KindBinary
	KindSlice
	KindFullSlice
	KindIndex
	KindMask
	KindTernary
	KindAssign
	KindCall
	KindReduction
)

var kindNames = [...]string{
	KindNumber:    "number",
	KindIdent:     "ident",
	KindUnary:     "unary",
	KindBinary:    "binary",
	KindSlice:     "slice",
	KindFullSlice: "full-slice",
	KindIndex:     "index",
	KindMask:      "mask",
	KindTernary:   "ternary",
	KindAssign:    "assign",
	KindCall:      "call",
	KindReduction: "reduction",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Node is any expression node.
type Node interface {
	Kind() Kind
	Position() Position
	String() string
}

// Number is a numeric literal. Text keeps the source spelling.
type Number struct {
	Value float64
	Text  string
	Pos   Position
}

func (n *Number) Kind() Kind         { return KindNumber }
func (n *Number) Position() Position { return n.Pos }
func (n *Number) String() string {
	if n.Text != "" {
		return n.Text
	}
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

// Ident is a variable reference.
type Ident struct {
	Name string
	Pos  Position
}

func (n *Ident) Kind() Kind         { return KindIdent }
func (n *Ident) Position() Position { return n.Pos }
func (n *Ident) String() string     { return n.Name }

// Unary is -x, ~x or !x.
type Unary struct {
	Op  string
	X   Node
	Pos Position
}

func (n *Unary) Kind() Kind         { return KindUnary }
func (n *Unary) Position() Position { return n.Pos }
func (n *Unary) String() string     { return n.Op + paren(n.X) }

// Binary is an infix operator other than the slice colon.
type Binary struct {
	Op   string
	X, Y Node
	Pos  Position
}

func (n *Binary) Kind() Kind         { return KindBinary }
func (n *Binary) Position() Position { return n.Pos }
func (n *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", n.X, n.Op, n.Y)
}

// Slice is the bounded range lo:hi, half-open.
type Slice struct {
	Lo, Hi Node
	Pos    Position
}

func (n *Slice) Kind() Kind         { return KindSlice }
func (n *Slice) Position() Position { return n.Pos }
func (n *Slice) String() string     { return fmt.Sprintf("%s:%s", n.Lo, n.Hi) }

// FullSlice is a bare ":" inside index brackets.
type FullSlice struct {
	Pos Position
}

func (n *FullSlice) Kind() Kind         { return KindFullSlice }
func (n *FullSlice) Position() Position { return n.Pos }
func (n *FullSlice) String() string     { return ":" }

// Index is name[i, j, ...].
type Index struct {
	Name    string
	Indices []Node
	Pos     Position
}

func (n *Index) Kind() Kind         { return KindIndex }
func (n *Index) Position() Position { return n.Pos }
func (n *Index) String() string {
	return fmt.Sprintf("%s[%s]", n.Name, join(n.Indices))
}

// Mask is name{predicate}.
type Mask struct {
	Name      string
	Predicate Node
	Pos       Position
}

func (n *Mask) Kind() Kind         { return KindMask }
func (n *Mask) Position() Position { return n.Pos }
func (n *Mask) String() string     { return fmt.Sprintf("%s{%s}", n.Name, n.Predicate) }

// Ternary is (cond ? then ; else).
type Ternary struct {
	Cond, Then, Else Node
	Pos              Position
}

func (n *Ternary) Kind() Kind         { return KindTernary }
func (n *Ternary) Position() Position { return n.Pos }
func (n *Ternary) String() string {
	return fmt.Sprintf("(%s ? %s ; %s)", n.Cond, n.Then, n.Else)
}

// Assign binds the value to Name in the evaluation environment.
type Assign struct {
	Name  string
	Value Node
	Pos   Position
}

func (n *Assign) Kind() Kind         { return KindAssign }
func (n *Assign) Position() Position { return n.Pos }
func (n *Assign) String() string     { return fmt.Sprintf("%s = %s", n.Name, n.Value) }

// Call is an elementwise function call with one or more arguments.
type Call struct {
	Name string
	Args []Node
	Pos  Position
}

func (n *Call) Kind() Kind         { return KindCall }
func (n *Call) Position() Position { return n.Pos }
func (n *Call) String() string     { return fmt.Sprintf("%s(%s)", n.Name, join(n.Args)) }

// Reduction is a call to a reduction function. Arity counts every call
// argument including Data, so a reduction over all axes has Arity 1.
type Reduction struct {
	Name  string
	Data  Node
	Axes  []Node
	Arity int
	Pos   Position
}

func (n *Reduction) Kind() Kind         { return KindReduction }
func (n *Reduction) Position() Position { return n.Pos }
func (n *Reduction) String() string {
	return fmt.Sprintf("%s(%s)", n.Name, join(append([]Node{n.Data}, n.Axes...)))
}

func join(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ", ")
}

func paren(n Node) string {
	switch n.Kind() {
	case KindNumber, KindIdent, KindCall, KindReduction, KindIndex, KindMask:
		return n.String()
	}
	return "(" + n.String() + ")"
}

// Walk calls fn for n and every descendant in depth-first order. Returning
// false from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *Unary:
		Walk(n.X, fn)
	case *Binary:
		Walk(n.X, fn)
		Walk(n.Y, fn)
	case *Slice:
		Walk(n.Lo, fn)
		Walk(n.Hi, fn)
	case *Index:
		for _, c := range n.Indices {
			Walk(c, fn)
		}
	case *Mask:
		Walk(n.Predicate, fn)
	case *Ternary:
		Walk(n.Cond, fn)
		Walk(n.Then, fn)
		Walk(n.Else, fn)
	case *Assign:
		Walk(n.Value, fn)
	case *Call:
		for _, c := range n.Args {
			Walk(c, fn)
		}
	case *Reduction:
		Walk(n.Data, fn)
		for _, c := range n.Axes {
			Walk(c, fn)
		}
	}
}

// Names returns the sorted set of variables an expression reads, including
// the bases of index and mask expressions. Assignment targets are not
// reads and are excluded unless read elsewhere.
func Names(n Node) []string {
	set := map[string]bool{}
	Walk(n, func(c Node) bool {
		switch c := c.(type) {
		case *Ident:
			set[c.Name] = true
		case *Index:
			set[c.Name] = true
		case *Mask:
			set[c.Name] = true
		}
		return true
	})
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
