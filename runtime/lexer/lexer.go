// Package lexer tokenizes array expressions.
package lexer

import "time"

// LexerOpt configures a Lexer.
type LexerOpt func(*lexerConfig)

type lexerConfig struct {
	telemetry bool
}

// WithTelemetry records per-type token counts and total lexing time.
func WithTelemetry() LexerOpt {
	return func(c *lexerConfig) {
		c.telemetry = true
	}
}

// Telemetry is collected when WithTelemetry is set.
type Telemetry struct {
	Counts   map[TokenType]int
	Duration time.Duration
}

// Lexer produces tokens from an expression string.
type Lexer struct {
	input  string
	pos    int
	line   int
	column int

	telemetry *Telemetry
}

// NewLexer creates a lexer over input.
func NewLexer(input string, opts ...LexerOpt) *Lexer {
	cfg := &lexerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	l := &Lexer{input: input, line: 1, column: 1}
	if cfg.telemetry {
		l.telemetry = &Telemetry{Counts: make(map[TokenType]int)}
	}
	return l
}

// Tokenize returns every token of input, ending with EOF.
func Tokenize(input string, opts ...LexerOpt) []Token {
	return NewLexer(input, opts...).All()
}

// All lexes the remaining input, ending with EOF.
func (l *Lexer) All() []Token {
	var start time.Time
	if l.telemetry != nil {
		start = time.Now()
	}
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			break
		}
	}
	if l.telemetry != nil {
		l.telemetry.Duration += time.Since(start)
	}
	return tokens
}

// Telemetry returns collected telemetry, or nil when disabled.
func (l *Lexer) Telemetry() *Telemetry { return l.telemetry }

// NextToken returns the next token. After the end of input it keeps
// returning EOF.
func (l *Lexer) NextToken() Token {
	tok := l.next()
	if l.telemetry != nil {
		l.telemetry.Counts[tok.Type]++
	}
	return tok
}

func (l *Lexer) next() Token {
	l.skipWhitespace()
	start := Position{Offset: l.pos, Line: l.line, Column: l.column}
	if l.pos >= len(l.input) {
		return Token{Type: EOF, Position: start}
	}

	ch := l.input[l.pos]
	switch {
	case isLetter(ch):
		return l.lexIdent(start)
	case isDigit(ch):
		return l.lexNumber(start)
	}

	if tt, width := l.operator(); width > 0 {
		text := l.input[l.pos : l.pos+width]
		l.advance(width)
		return Token{Type: tt, Text: text, Position: start}
	}

	l.advance(1)
	return Token{Type: ILLEGAL, Text: string(ch), Position: start}
}

var singleChar = map[byte]TokenType{
	'~': TILDE, '+': PLUS, '-': MINUS, '*': STAR, '/': SLASH, '^': CARET,
	'|': PIPE, '&': AMP, '(': LPAREN, ')': RPAREN, '[': LSQUARE, ']': RSQUARE,
	'{': LBRACE, '}': RBRACE, ',': COMMA, ':': COLON, '?': QUESTION, ';': SEMICOLON,
}

// operator matches the longest operator at the current position.
func (l *Lexer) operator() (TokenType, int) {
	ch := l.input[l.pos]
	var nxt byte
	if l.pos+1 < len(l.input) {
		nxt = l.input[l.pos+1]
	}
	switch ch {
	case '<':
		if nxt == '=' {
			return LT_EQ, 2
		}
		return LT, 1
	case '>':
		if nxt == '=' {
			return GT_EQ, 2
		}
		return GT, 1
	case '=':
		if nxt == '=' {
			return EQ, 2
		}
		return ASSIGN, 1
	case '!':
		if nxt == '=' {
			return NE, 2
		}
		return BANG, 1
	}
	if tt, ok := singleChar[ch]; ok {
		return tt, 1
	}
	return ILLEGAL, 0
}

// lexIdent reads [A-Za-z][A-Za-z0-9_$]*.
func (l *Lexer) lexIdent(start Position) Token {
	begin := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if !isLetter(ch) && !isDigit(ch) && ch != '_' && ch != '$' {
			break
		}
		l.advance(1)
	}
	return Token{Type: IDENT, Text: l.input[begin:l.pos], Position: start}
}

// lexNumber reads digits, an optional fraction (the digits after the
// point may be absent) and an optional exponent. A dangling "E" without
// digits is left for the next token.
func (l *Lexer) lexNumber(start Position) Token {
	begin := l.pos
	l.digits()
	if l.peek(0) == '.' {
		l.advance(1)
		l.digits()
	}
	if c := l.peek(0); c == 'e' || c == 'E' {
		off := 1
		if s := l.peek(1); s == '+' || s == '-' {
			off = 2
		}
		if isDigit(l.peek(off)) {
			l.advance(off)
			l.digits()
		}
	}
	return Token{Type: NUMBER, Text: l.input[begin:l.pos], Position: start}
}

func (l *Lexer) digits() {
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.advance(1)
	}
}

func (l *Lexer) peek(off int) byte {
	if l.pos+off < len(l.input) {
		return l.input[l.pos+off]
	}
	return 0
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\r', '\n':
			l.advance(1)
		default:
			return
		}
	}
}

func (l *Lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.input); i++ {
		if l.input[l.pos] == '\n' {
			l.line++
			l.column = 1
		} else {
			l.column++
		}
		l.pos++
	}
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
