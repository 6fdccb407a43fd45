package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/runtime/compiler"
	"github.com/opal-lang/datacube/runtime/evaluator"
)

func (a *app) evalCmd() *cobra.Command {
	var (
		vars        []string
		explain     bool
		autoExtract bool
	)
	cmd := &cobra.Command{
		Use:   "eval EXPR",
		Short: "Evaluate an expression over JSON arrays",
		Example: `  datacube eval '(b40 - b30) / (b40 + b30)' -v b30=b30.json -v b40=b40.json
  datacube eval 'mean(x, 0)' -v x=cube.json --explain`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			if explain {
				prog, err := compiler.CompileString(src)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.stdout, "%s %s\n", Colorize("postfix:", ColorCyan, a.useColor()), prog)
				_, _ = fmt.Fprintf(a.stdout, "%s %s\n", Colorize("reads:", ColorCyan, a.useColor()), strings.Join(prog.Names(), ", "))
			}

			env, err := loadVars(vars)
			if err != nil {
				return err
			}
			ev := evaluator.New(
				evaluator.WithAutoExtract(autoExtract),
				evaluator.WithMaskPolicy(a.cfg.MaskPolicy),
				evaluator.WithLogger(a.logger),
			)
			out, err := ev.Evaluate(cmd.Context(), src, env)
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, out)
		},
	}
	cmd.Flags().StringArrayVarP(&vars, "var", "v", nil, "Bind a variable: name=file.json or name=number")
	cmd.Flags().BoolVar(&explain, "explain", false, "Print the compiled program first")
	cmd.Flags().BoolVar(&autoExtract, "auto-extract", false, "Masks return only the selected values")
	return cmd
}

// loadVars parses name=value bindings. A value that parses as a number is a
// scalar; anything else is read as a JSON array file.
func loadVars(bindings []string) (evaluator.Env, error) {
	env := evaluator.Env{}
	for _, b := range bindings {
		name, value, ok := strings.Cut(b, "=")
		if !ok || name == "" || value == "" {
			return nil, &CLIError{
				Type:    "usage",
				Message: fmt.Sprintf("invalid binding %q", b),
				Hint:    "use -v name=file.json or -v name=2.5",
			}
		}
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			env[name] = ndarray.Scalar(v)
			continue
		}
		arr, err := readArray(value)
		if err != nil {
			return nil, err
		}
		env[name] = arr
	}
	return env, nil
}

func readArray(path string) (*ndarray.Array, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CLIError{Type: "io", Message: err.Error()}
	}
	var arr ndarray.Array
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, &CLIError{
			Type:    "io",
			Message: fmt.Sprintf("%s is not an array: %v", path, err),
			Hint:    `arrays are JSON objects: {"dims": [...], "shape": [...], "data": [...]}`,
		}
	}
	return &arr, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
