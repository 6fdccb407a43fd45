package compiler

import (
	"fmt"
	"sync"

	"github.com/opal-lang/datacube/core/ast"
	"github.com/opal-lang/datacube/core/invariant"
	"github.com/opal-lang/datacube/runtime/parser"
)

// CompileError reports an AST the compiler cannot lower.
type CompileError struct {
	Node    ast.Node
	Message string
}

func (e *CompileError) Error() string {
	if e.Node != nil {
		return fmt.Sprintf("compile %s at %s: %s", e.Node.Kind(), e.Node.Position(), e.Message)
	}
	return "compile: " + e.Message
}

// Compile lowers an AST to a postfix program.
func Compile(node ast.Node) (*Program, error) {
	if node == nil {
		return nil, &CompileError{Message: "nil expression"}
	}
	c := &compiler{}
	if err := c.emit(node); err != nil {
		return nil, err
	}
	p := &Program{Source: node.String(), Instructions: c.out}
	invariant.ExpectNoError(p.Validate(), "compiled program is well formed")
	return p, nil
}

// CompileString parses and compiles src.
func CompileString(src string, opts ...parser.ParserOpt) (*Program, error) {
	node, err := parser.Parse(src, opts...)
	if err != nil {
		return nil, err
	}
	p, err := Compile(node)
	if err != nil {
		return nil, err
	}
	p.Source = src
	return p, nil
}

type compiler struct {
	out []Instruction
}

func (c *compiler) push(in Instruction) { c.out = append(c.out, in) }

func (c *compiler) emit(node ast.Node) error {
	switch n := node.(type) {
	case *ast.Number:
		c.push(Instruction{Op: OpNumber, Text: n.String(), Value: n.Value})

	case *ast.Ident:
		c.push(Instruction{Op: OpName, Text: n.Name})

	case *ast.Unary:
		if err := c.emit(n.X); err != nil {
			return err
		}
		c.push(Instruction{Op: OpUnary, Text: n.Op})

	case *ast.Binary:
		if err := c.emit(n.X); err != nil {
			return err
		}
		if err := c.emit(n.Y); err != nil {
			return err
		}
		c.push(Instruction{Op: OpBinary, Text: n.Op})

	case *ast.Slice:
		if err := c.emit(n.Lo); err != nil {
			return err
		}
		if err := c.emit(n.Hi); err != nil {
			return err
		}
		c.push(Instruction{Op: OpSlice, Text: ":"})

	case *ast.FullSlice:
		c.push(Instruction{Op: OpFullSlice, Text: "::"})

	case *ast.Index:
		if len(n.Indices) == 0 {
			return &CompileError{Node: n, Message: "index without selectors"}
		}
		for _, item := range n.Indices {
			if err := c.emit(item); err != nil {
				return err
			}
		}
		c.push(Instruction{Op: OpName, Text: n.Name})
		c.push(Instruction{Op: OpIndex, Text: "[]", Argc: len(n.Indices)})

	case *ast.Mask:
		if err := c.emit(n.Predicate); err != nil {
			return err
		}
		c.push(Instruction{Op: OpName, Text: n.Name})
		c.push(Instruction{Op: OpMask, Text: "{}"})

	case *ast.Ternary:
		// Else first so the condition sits nearest the marker.
		lens := [3]int{}
		for i, branch := range []ast.Node{n.Else, n.Then, n.Cond} {
			before := len(c.out)
			if err := c.emit(branch); err != nil {
				return err
			}
			lens[i] = len(c.out) - before
		}
		c.push(Instruction{Op: OpTernary, Text: "?", Else: lens[0], Then: lens[1], Cond: lens[2]})

	case *ast.Assign:
		if err := c.emit(n.Value); err != nil {
			return err
		}
		c.push(Instruction{Op: OpName, Text: n.Name})
		c.push(Instruction{Op: OpAssign, Text: "="})

	case *ast.Call:
		if len(n.Args) == 0 || len(n.Args) > parser.MaxCallArgs {
			return &CompileError{Node: n, Message: fmt.Sprintf("%s takes 1 to %d arguments, got %d", n.Name, parser.MaxCallArgs, len(n.Args))}
		}
		for _, arg := range n.Args {
			if err := c.emit(arg); err != nil {
				return err
			}
		}
		c.push(Instruction{Op: OpCall, Text: n.Name, Argc: len(n.Args)})

	case *ast.Reduction:
		if n.Arity != len(n.Axes)+1 {
			return &CompileError{Node: n, Message: fmt.Sprintf("arity %d does not match %d axes", n.Arity, len(n.Axes))}
		}
		if err := c.emit(n.Data); err != nil {
			return err
		}
		for _, axis := range n.Axes {
			if err := c.emit(axis); err != nil {
				return err
			}
		}
		c.push(Instruction{Op: OpArity, Value: float64(n.Arity)})
		c.push(Instruction{Op: OpReduce, Text: n.Name})

	default:
		return &CompileError{Node: node, Message: fmt.Sprintf("unsupported node %T", node)}
	}
	return nil
}

// Cache memoises compiled programs by expression text.
type Cache struct {
	mu       sync.RWMutex
	programs map[string]*Program
	opts     []parser.ParserOpt
}

// NewCache returns an empty cache that parses with opts.
func NewCache(opts ...parser.ParserOpt) *Cache {
	return &Cache{programs: make(map[string]*Program), opts: opts}
}

// Get returns the program for src, compiling it on first use. Parse
// errors are not cached.
func (c *Cache) Get(src string) (*Program, error) {
	c.mu.RLock()
	p, ok := c.programs[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := CompileString(src, c.opts...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.programs[src]; ok {
		return existing, nil
	}
	c.programs[src] = p
	return p, nil
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}
