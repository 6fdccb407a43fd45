package bandmath

import (
	"fmt"
	"math"
	"sort"

	"github.com/expr-lang/expr"
)

func number(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func unary(fn func(float64) float64) func(...any) (any, error) {
	return func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(params))
		}
		x, err := number(params[0])
		if err != nil {
			return nil, err
		}
		return fn(x), nil
	}
}

func binary(fn func(x, y float64) float64) func(...any) (any, error) {
	return func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("expected 2 arguments, got %d", len(params))
		}
		x, err := number(params[0])
		if err != nil {
			return nil, err
		}
		y, err := number(params[1])
		if err != nil {
			return nil, err
		}
		return fn(x, y), nil
	}
}

// Names avoid expr-lang builtins such as abs, min and max.
var functions = map[string]func(...any) (any, error){
	"sqrt":    unary(math.Sqrt),
	"exp":     unary(math.Exp),
	"expm1":   unary(math.Expm1),
	"log":     unary(math.Log),
	"log10":   unary(math.Log10),
	"log1p":   unary(math.Log1p),
	"sin":     unary(math.Sin),
	"cos":     unary(math.Cos),
	"tan":     unary(math.Tan),
	"arcsin":  unary(math.Asin),
	"arccos":  unary(math.Acos),
	"arctan":  unary(math.Atan),
	"sinh":    unary(math.Sinh),
	"cosh":    unary(math.Cosh),
	"tanh":    unary(math.Tanh),
	"isnan": func(params ...any) (any, error) {
		x, err := argOne(params)
		if err != nil {
			return nil, err
		}
		return math.IsNaN(x), nil
	},
	"arctan2": binary(math.Atan2),
	"fmod":    binary(math.Mod),
	"where": func(params ...any) (any, error) {
		if len(params) != 3 {
			return nil, fmt.Errorf("where expects 3 arguments, got %d", len(params))
		}
		c, err := number(params[0])
		if err != nil {
			return nil, err
		}
		if c != 0 {
			return number(params[1])
		}
		return number(params[2])
	},
}

func argOne(params []any) (float64, error) {
	if len(params) != 1 {
		return 0, fmt.Errorf("expected 1 argument, got %d", len(params))
	}
	return number(params[0])
}

func functionOptions() []expr.Option {
	opts := make([]expr.Option, 0, len(functions))
	for _, name := range Functions() {
		opts = append(opts, expr.Function(name, functions[name]))
	}
	return opts
}

// Functions lists the helper functions available to expressions.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for n := range functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
