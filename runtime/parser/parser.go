// Package parser turns array-expression text into an ast.Node.
//
// Grammar, lowest to highest precedence:
//
//	expr       = binary
//	binary     = operand { op operand }
//	             op: | &   == !=   < <= > >=   :   + -   * /   ^
//	operand    = [ "-" | "+" ] atom
//	atom       = name "=" expr
//	           | name "[" item { "," item } "]"
//	           | "(" expr "?" expr ";" expr ")"
//	           | "!" binary | "~" binary
//	           | name "{" expr "}"
//	           | name "(" expr { "," expr } ")"     (1 to 4 arguments)
//	           | name | number | "(" expr ")"
//	item       = ":" (before "," or "]") | binary
//
// All binary operators are left-associative except "^". The operand of "!"
// and "~" is a whole binary expression, so "~a & b" negates "a & b".
package parser

import (
	"fmt"
	"strconv"

	"github.com/opal-lang/datacube/core/ast"
	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/runtime/lexer"
)

// MaxCallArgs is the largest argument count a call accepts.
const MaxCallArgs = 4

// Parse parses a complete expression.
func Parse(src string, opts ...ParserOpt) (node ast.Node, err error) {
	cfg := &parserConfig{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(cfg)
	}

	p := &parser{
		src:    src,
		tokens: lexer.Tokenize(src),
		cfg:    cfg,
	}

	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			node, err = nil, b.err
		}
	}()

	if p.at(lexer.EOF) {
		p.fail(p.current(), "empty expression", "", nil)
	}
	node = p.expression()
	if !p.at(lexer.EOF) {
		tok := p.current()
		if tok.Type == lexer.ILLEGAL {
			p.fail(tok, fmt.Sprintf("illegal character %q", tok.Text), "", nil)
		}
		pe := p.errorAt(tok, fmt.Sprintf("unexpected %s after expression", describe(tok)), "", nil)
		if tok.Type == lexer.RPAREN || tok.Type == lexer.RSQUARE || tok.Type == lexer.RBRACE {
			pe.Suggestion = fmt.Sprintf("remove the unmatched %q", tok.Text)
		}
		panic(bailout{pe})
	}
	return node, nil
}

type bailout struct{ err *ParseError }

type parser struct {
	src    string
	tokens []lexer.Token
	pos    int
	depth  int
	cfg    *parserConfig
}

func (p *parser) expression() ast.Node {
	return p.binary(1)
}

// precedence returns the binding power of a binary operator, 0 otherwise.
func precedence(t lexer.TokenType) int {
	switch t {
	case lexer.PIPE, lexer.AMP:
		return 1
	case lexer.EQ, lexer.NE:
		return 2
	case lexer.LT, lexer.LT_EQ, lexer.GT, lexer.GT_EQ:
		return 3
	case lexer.COLON:
		return 4
	case lexer.PLUS, lexer.MINUS:
		return 5
	case lexer.STAR, lexer.SLASH:
		return 6
	case lexer.CARET:
		return 7
	}
	return 0
}

// binary parses operators whose precedence is at least minPrec.
func (p *parser) binary(minPrec int) ast.Node {
	left := p.operand()
	for {
		tok := p.current()
		prec := precedence(tok.Type)
		if prec == 0 || prec < minPrec {
			return left
		}
		p.advance()

		next := prec + 1
		if tok.Type == lexer.CARET {
			next = prec
		}
		right := p.binary(next)

		if tok.Type == lexer.COLON {
			left = &ast.Slice{Lo: left, Hi: right, Pos: pos(tok)}
			continue
		}
		left = &ast.Binary{Op: tok.Text, X: left, Y: right, Pos: pos(tok)}
	}
}

// operand is an atom with an optional sign. A negated number literal folds
// into the literal.
func (p *parser) operand() ast.Node {
	tok := p.current()
	switch tok.Type {
	case lexer.MINUS:
		p.advance()
		p.enter(tok)
		defer p.leave()
		x := p.operand()
		if n, ok := x.(*ast.Number); ok {
			return &ast.Number{Value: -n.Value, Text: "-" + n.String(), Pos: pos(tok)}
		}
		return &ast.Unary{Op: "-", X: x, Pos: pos(tok)}
	case lexer.PLUS:
		p.advance()
		return p.operand()
	}
	return p.atom()
}

func (p *parser) atom() ast.Node {
	tok := p.current()
	switch tok.Type {
	case lexer.IDENT:
		return p.named()
	case lexer.NUMBER:
		p.advance()
		v, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			p.fail(tok, fmt.Sprintf("invalid number %q", tok.Text), "numeric literal", nil)
		}
		return &ast.Number{Value: v, Text: tok.Text, Pos: pos(tok)}
	case lexer.BANG, lexer.TILDE:
		p.advance()
		p.enter(tok)
		defer p.leave()
		return &ast.Unary{Op: tok.Text, X: p.expression(), Pos: pos(tok)}
	case lexer.LPAREN:
		return p.parenthesized()
	case lexer.ILLEGAL:
		p.fail(tok, fmt.Sprintf("illegal character %q", tok.Text), "", nil)
	case lexer.EOF:
		p.fail(tok, "unexpected end of expression", "", []lexer.TokenType{lexer.IDENT, lexer.NUMBER, lexer.LPAREN})
	}
	p.fail(tok, fmt.Sprintf("unexpected %s", describe(tok)), "", []lexer.TokenType{lexer.IDENT, lexer.NUMBER, lexer.LPAREN})
	return nil
}

// parenthesized handles "(expr)" and "(cond ? then ; else)".
func (p *parser) parenthesized() ast.Node {
	open := p.current()
	p.advance()
	p.enter(open)
	defer p.leave()

	first := p.expression()
	if !p.at(lexer.QUESTION) {
		p.closing(open, lexer.RPAREN, "parenthesized expression")
		return first
	}

	p.advance()
	then := p.expression()
	if !p.at(lexer.SEMICOLON) {
		pe := p.errorAt(p.current(), "expected ';' between ternary branches", "conditional expression", []lexer.TokenType{lexer.SEMICOLON})
		pe.Example = "(x > 0 ? x ; 0)"
		panic(bailout{pe})
	}
	p.advance()
	els := p.expression()
	p.closing(open, lexer.RPAREN, "conditional expression")
	return &ast.Ternary{Cond: first, Then: then, Else: els, Pos: pos(open)}
}

// named parses everything that starts with an identifier.
func (p *parser) named() ast.Node {
	name := p.current()
	p.advance()

	switch p.current().Type {
	case lexer.ASSIGN:
		p.advance()
		return &ast.Assign{Name: name.Text, Value: p.expression(), Pos: pos(name)}

	case lexer.LSQUARE:
		open := p.current()
		p.advance()
		p.enter(open)
		defer p.leave()
		var items []ast.Node
		for {
			items = append(items, p.indexItem())
			if !p.at(lexer.COMMA) {
				break
			}
			p.advance()
		}
		p.closing(open, lexer.RSQUARE, "index list")
		return &ast.Index{Name: name.Text, Indices: items, Pos: pos(name)}

	case lexer.LBRACE:
		open := p.current()
		p.advance()
		p.enter(open)
		defer p.leave()
		pred := p.expression()
		p.closing(open, lexer.RBRACE, "mask")
		return &ast.Mask{Name: name.Text, Predicate: pred, Pos: pos(name)}

	case lexer.LPAREN:
		return p.call(name)
	}
	return &ast.Ident{Name: name.Text, Pos: pos(name)}
}

func (p *parser) indexItem() ast.Node {
	tok := p.current()
	if tok.Type == lexer.COLON {
		next := p.peek(1).Type
		if next == lexer.COMMA || next == lexer.RSQUARE {
			p.advance()
			return &ast.FullSlice{Pos: pos(tok)}
		}
		pe := p.errorAt(tok, "a slice needs both bounds", "index list", nil)
		pe.Suggestion = "write the range as lo:hi, or use a bare ':' for the whole axis"
		pe.Example = "x[0, :, 2:5]"
		panic(bailout{pe})
	}
	return p.expression()
}

func (p *parser) call(name lexer.Token) ast.Node {
	open := p.current()
	p.advance()
	p.enter(open)
	defer p.leave()

	if p.at(lexer.RPAREN) {
		pe := p.errorAt(p.current(), fmt.Sprintf("%s() needs at least one argument", name.Text), "function call", nil)
		pe.Example = fmt.Sprintf("%s(x)", name.Text)
		panic(bailout{pe})
	}
	var args []ast.Node
	for {
		args = append(args, p.expression())
		if !p.at(lexer.COMMA) {
			break
		}
		p.advance()
	}
	p.closing(open, lexer.RPAREN, "function call")

	if len(args) > MaxCallArgs {
		p.fail(name, fmt.Sprintf("%s called with %d arguments, at most %d are allowed", name.Text, len(args), MaxCallArgs), "function call", nil)
	}
	if ndarray.IsReduction(name.Text) {
		return &ast.Reduction{Name: name.Text, Data: args[0], Axes: args[1:], Arity: len(args), Pos: pos(name)}
	}
	return &ast.Call{Name: name.Text, Args: args, Pos: pos(name)}
}

// closing consumes the bracket matching open or fails.
func (p *parser) closing(open lexer.Token, want lexer.TokenType, context string) {
	if p.at(want) {
		p.advance()
		return
	}
	got := p.current()
	msg := fmt.Sprintf("expected %q to close %q opened at %d:%d, got %s",
		want.String(), open.Text, open.Position.Line, open.Position.Column, describe(got))
	pe := p.errorAt(got, msg, context, []lexer.TokenType{want})
	pe.Suggestion = fmt.Sprintf("add %q", want.String())
	panic(bailout{pe})
}

func (p *parser) enter(tok lexer.Token) {
	p.depth++
	if p.depth > p.cfg.maxDepth {
		p.fail(tok, fmt.Sprintf("expression nested deeper than %d levels", p.cfg.maxDepth), "", nil)
	}
}

func (p *parser) leave() { p.depth-- }

func (p *parser) current() lexer.Token { return p.peek(0) }

func (p *parser) peek(off int) lexer.Token {
	if i := p.pos + off; i < len(p.tokens) {
		return p.tokens[i]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) at(t lexer.TokenType) bool { return p.current().Type == t }

func (p *parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
}

func (p *parser) errorAt(tok lexer.Token, msg, context string, expected []lexer.TokenType) *ParseError {
	return &ParseError{
		Filename: p.cfg.filename,
		Position: tok.Position,
		Input:    p.src,
		Message:  msg,
		Context:  context,
		Expected: expected,
		Got:      tok,
	}
}

func (p *parser) fail(tok lexer.Token, msg, context string, expected []lexer.TokenType) {
	panic(bailout{p.errorAt(tok, msg, context, expected)})
}

func describe(tok lexer.Token) string {
	switch tok.Type {
	case lexer.EOF:
		return "end of expression"
	case lexer.IDENT:
		return fmt.Sprintf("name %q", tok.Text)
	case lexer.NUMBER:
		return fmt.Sprintf("number %s", tok.Text)
	}
	return fmt.Sprintf("%q", tok.Text)
}

func pos(tok lexer.Token) ast.Position {
	return ast.Position{Offset: tok.Position.Offset, Line: tok.Position.Line, Column: tok.Position.Column}
}
