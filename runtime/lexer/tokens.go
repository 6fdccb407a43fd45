package lexer

import "fmt"

// TokenType identifies a lexical token of the expression language.
type TokenType int

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Literals
	IDENT  // b40, array1, x$1
	NUMBER // 3, 3.5, 1E-3

	// Assignment and unary operators
	ASSIGN // =
	TILDE  // ~
	BANG   // !

	// Arithmetic operators
	PLUS  // +
	MINUS // -
	STAR  // *
	SLASH // /
	CARET // ^

	// Comparison operators
	LT    // <
	LT_EQ // <=
	GT    // >
	GT_EQ // >=
	EQ    // ==
	NE    // !=

	// Bitwise operators
	PIPE // |
	AMP  // &

	// Punctuation
	LPAREN    // (
	RPAREN    // )
	LSQUARE   // [
	RSQUARE   // ]
	LBRACE    // {
	RBRACE    // }
	COMMA     // ,
	COLON     // :
	QUESTION  // ?
	SEMICOLON // ;
)

var tokenNames = map[TokenType]string{
	EOF:       "EOF",
	ILLEGAL:   "ILLEGAL",
	IDENT:     "IDENT",
	NUMBER:    "NUMBER",
	ASSIGN:    "=",
	TILDE:     "~",
	BANG:      "!",
	PLUS:      "+",
	MINUS:     "-",
	STAR:      "*",
	SLASH:     "/",
	CARET:     "^",
	LT:        "<",
	LT_EQ:     "<=",
	GT:        ">",
	GT_EQ:     ">=",
	EQ:        "==",
	NE:        "!=",
	PIPE:      "|",
	AMP:       "&",
	LPAREN:    "(",
	RPAREN:    ")",
	LSQUARE:   "[",
	RSQUARE:   "]",
	LBRACE:    "{",
	RBRACE:    "}",
	COMMA:     ",",
	COLON:     ":",
	QUESTION:  "?",
	SEMICOLON: ";",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Position is the location of a token in the source.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based
	Column int // 1-based
}

// Token is one lexical token.
type Token struct {
	Type     TokenType
	Text     string
	Position Position
}

func (t Token) String() string {
	switch t.Type {
	case IDENT, NUMBER, ILLEGAL:
		return fmt.Sprintf("%s(%q)", t.Type, t.Text)
	}
	return t.Type.String()
}

// IsOperator reports whether the token is a binary operator.
func (t TokenType) IsOperator() bool {
	switch t {
	case PLUS, MINUS, STAR, SLASH, CARET, LT, LT_EQ, GT, GT_EQ, EQ, NE, PIPE, AMP, COLON:
		return true
	}
	return false
}
