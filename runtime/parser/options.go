package parser

// ParserOpt configures Parse.
type ParserOpt func(*parserConfig)

type parserConfig struct {
	filename string
	maxDepth int
}

// DefaultMaxDepth bounds nesting of parentheses, brackets and unary
// operators.
const DefaultMaxDepth = 256

// WithFilename labels error snippets with a file name.
func WithFilename(name string) ParserOpt {
	return func(c *parserConfig) {
		c.filename = name
	}
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) ParserOpt {
	return func(c *parserConfig) {
		c.maxDepth = n
	}
}
