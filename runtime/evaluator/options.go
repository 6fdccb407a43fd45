package evaluator

import (
	"log/slog"

	"github.com/opal-lang/datacube/runtime/compiler"
	"github.com/opal-lang/datacube/runtime/pqa"
)

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithAutoExtract makes the mask operator run its predicate through the
// quality-mask builder before selecting.
func WithAutoExtract(on bool) Option {
	return func(e *Evaluator) { e.autoExtract = on }
}

// WithMaskPolicy sets the policy used in auto-extract mode.
func WithMaskPolicy(p pqa.Policy) Option {
	return func(e *Evaluator) { e.policy = p }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithCache shares a program cache between evaluators.
func WithCache(c *compiler.Cache) Option {
	return func(e *Evaluator) { e.cache = c }
}
