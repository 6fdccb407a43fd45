package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opal-lang/datacube/runtime/lexer"
)

// ErrSyntax is matched by every *ParseError via errors.Is.
var ErrSyntax = errors.New("syntax error")

// ParseError is a malformed-expression error with enough context to point
// at the offending token.
type ParseError struct {
	Filename string
	Position lexer.Position
	Input    string

	Message string // "missing closing ']'"
	Context string // what was being parsed: "index list"

	Expected []lexer.TokenType
	Got      lexer.Token

	Suggestion string
	Example    string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("syntax error: ")
	b.WriteString(e.Message)
	if e.Context != "" {
		fmt.Fprintf(&b, " in %s", e.Context)
	}
	if snippet := e.snippet(); snippet != "" {
		b.WriteString("\n")
		b.WriteString(snippet)
	}
	return b.String()
}

// Is makes errors.Is(err, ErrSyntax) succeed.
func (e *ParseError) Is(target error) bool { return target == ErrSyntax }

func (e *ParseError) snippet() string {
	if e.Input == "" || e.Position.Line == 0 {
		return ""
	}
	lines := strings.Split(e.Input, "\n")
	if e.Position.Line > len(lines) {
		return ""
	}
	line := lines[e.Position.Line-1]

	var b strings.Builder
	loc := fmt.Sprintf("%d:%d", e.Position.Line, e.Position.Column)
	if e.Filename != "" {
		loc = e.Filename + ":" + loc
	}
	fmt.Fprintf(&b, "  --> %s\n", loc)
	b.WriteString("   |\n")
	fmt.Fprintf(&b, "%2d | %s\n", e.Position.Line, line)
	b.WriteString("   | ")
	if e.Position.Column > 0 && e.Position.Column <= len(line)+1 {
		b.WriteString(strings.Repeat(" ", e.Position.Column-1) + "^")
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n   = help: %s", e.Suggestion)
	}
	if e.Example != "" {
		fmt.Fprintf(&b, "\n   = example: %s", e.Example)
	}
	return b.String()
}
