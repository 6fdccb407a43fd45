// Package compiler lowers an expression AST to a postfix instruction
// sequence that the evaluator runs as a stack machine.
//
// Encodings:
//
//	x + y            x y +
//	-x               x unary -
//	mean(x, 0, 1)    x 0 1 3 mean        (3 = argument count, data included)
//	sqrt(x)          x sqrt
//	x[0, :, 1:3]     0 :: 1 3 : x []
//	x{m}             m x {}
//	(c ? a ; b)      b a c ?             (? records the three branch lengths)
//	m = x + 1        x 1 + m =
//
// Read right to left, a valid program reduces to exactly one value.
package compiler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxArity is the largest reduction argument count.
const MaxArity = 4

// OpCode classifies an instruction.
type OpCode uint8

const (
	OpNumber    OpCode = iota // numeric literal
	OpName                    // variable reference, or assignment target
	OpBinary                  // + - * / ^ < <= > >= == != | &
	OpUnary                   // unary -, unary ~, unary !
	OpArity                   // reduction argument count
	OpReduce                  // reduction function
	OpCall                    // elementwise function
	OpFullSlice               // ::
	OpSlice                   // :
	OpIndex                   // []
	OpMask                    // {}
	OpTernary                 // ?
	OpAssign                  // =
)

var opNames = [...]string{
	OpNumber:    "number",
	OpName:      "name",
	OpBinary:    "binary",
	OpUnary:     "unary",
	OpArity:     "arity",
	OpReduce:    "reduce",
	OpCall:      "call",
	OpFullSlice: "full-slice",
	OpSlice:     "slice",
	OpIndex:     "index",
	OpMask:      "mask",
	OpTernary:   "ternary",
	OpAssign:    "assign",
}

func (o OpCode) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Instruction is one postfix token.
type Instruction struct {
	Op    OpCode
	Text  string  // symbol, name or literal spelling
	Value float64 // OpNumber and OpArity
	Argc  int     // OpCall arguments, OpIndex operands

	// OpTernary: lengths of the condition, then and else sequences that
	// immediately precede it, condition nearest.
	Cond, Then, Else int
}

func (in Instruction) String() string {
	switch in.Op {
	case OpNumber:
		if in.Text != "" {
			return in.Text
		}
		return strconv.FormatFloat(in.Value, 'g', -1, 64)
	case OpArity:
		return strconv.Itoa(int(in.Value))
	case OpUnary:
		return "unary " + in.Text
	case OpFullSlice:
		return "::"
	case OpSlice:
		return ":"
	case OpIndex:
		return "[]"
	case OpMask:
		return "{}"
	case OpTernary:
		return "?"
	case OpAssign:
		return "="
	}
	return in.Text
}

// Program is a compiled expression. Programs are immutable and safe to
// share between goroutines.
type Program struct {
	Source       string
	Instructions []Instruction
}

// String renders the instruction sequence separated by spaces.
func (p *Program) String() string {
	parts := make([]string, len(p.Instructions))
	for i, in := range p.Instructions {
		parts[i] = in.String()
	}
	return strings.Join(parts, " ")
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.Instructions) }

// Names returns the sorted variables the program reads.
func (p *Program) Names() []string {
	set := map[string]bool{}
	targets := map[int]bool{}
	for i, in := range p.Instructions {
		if in.Op == OpAssign && i > 0 {
			targets[i-1] = true
		}
	}
	for i, in := range p.Instructions {
		if in.Op == OpName && !targets[i] {
			set[in.Text] = true
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the program reduces to exactly one value.
func (p *Program) Validate() error {
	if len(p.Instructions) == 0 {
		return &ProgramError{Message: "empty program"}
	}
	start, err := p.span(len(p.Instructions))
	if err != nil {
		return err
	}
	if start != 0 {
		return &ProgramError{Index: start - 1, Message: fmt.Sprintf("%d instructions left unconsumed", start)}
	}
	return nil
}

// span returns the start of the single expression ending just before end.
func (p *Program) span(end int) (int, error) {
	if end <= 0 {
		return 0, &ProgramError{Index: end, Message: "stack underflow"}
	}
	i := end - 1
	in := p.Instructions[i]
	switch in.Op {
	case OpNumber, OpName, OpFullSlice:
		return i, nil
	case OpBinary, OpSlice:
		return p.spans(i, 2)
	case OpUnary:
		return p.spans(i, 1)
	case OpMask:
		if i == 0 || p.Instructions[i-1].Op != OpName {
			return 0, &ProgramError{Index: i, Message: "mask base must be a name"}
		}
		return p.spans(i-1, 1)
	case OpIndex:
		if i == 0 || p.Instructions[i-1].Op != OpName {
			return 0, &ProgramError{Index: i, Message: "index base must be a name"}
		}
		return p.spans(i-1, in.Argc)
	case OpAssign:
		if i == 0 || p.Instructions[i-1].Op != OpName {
			return 0, &ProgramError{Index: i, Message: "assignment target must be a name"}
		}
		return p.spans(i-1, 1)
	case OpCall:
		return p.spans(i, in.Argc)
	case OpReduce:
		if i == 0 || p.Instructions[i-1].Op != OpArity {
			return 0, &ProgramError{Index: i, Message: "reduction without arity"}
		}
		return p.spans(i-1, int(p.Instructions[i-1].Value))
	case OpTernary:
		total := in.Cond + in.Then + in.Else
		if total > i {
			return 0, &ProgramError{Index: i, Message: "ternary branches exceed program"}
		}
		// Each branch must be a complete expression on its own.
		at := i
		for _, n := range []int{in.Cond, in.Then, in.Else} {
			sub := &Program{Instructions: p.Instructions[at-n : at]}
			if err := sub.Validate(); err != nil {
				return 0, err
			}
			at -= n
		}
		return at, nil
	case OpArity:
		return 0, &ProgramError{Index: i, Message: "arity outside a reduction"}
	}
	return 0, &ProgramError{Index: i, Message: fmt.Sprintf("unknown opcode %s", in.Op)}
}

// spans consumes n complete expressions ending just before end.
func (p *Program) spans(end, n int) (int, error) {
	at := end
	for k := 0; k < n; k++ {
		start, err := p.span(at)
		if err != nil {
			return 0, err
		}
		at = start
	}
	return at, nil
}

// ProgramError reports a malformed instruction sequence.
type ProgramError struct {
	Index   int
	Message string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("malformed program at instruction %d: %s", e.Index, e.Message)
}
