package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/opal-lang/datacube/core/plan"
	"github.com/opal-lang/datacube/runtime/executor"
	"github.com/opal-lang/datacube/runtime/parser"
)

// CLIError is a user-facing error with optional context and a fix.
type CLIError struct {
	Type    string // "usage", "plan", "eval", "execution", "io"
	Message string
	Details string
	Hint    string
}

func (e *CLIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString("\n")
		b.WriteString(e.Details)
	}
	if e.Hint != "" {
		b.WriteString("\n")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// FormatError writes err for a terminal.
func FormatError(w io.Writer, err error, useColor bool) {
	if err == nil {
		return
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		formatCLIError(w, cliErr, useColor)
		return
	}
	formatCLIError(w, classify(err), useColor)
}

func formatCLIError(w io.Writer, err *CLIError, useColor bool) {
	_, _ = fmt.Fprintf(w, "%s%s\n", Colorize("Error: ", ColorRed, useColor), err.Message)
	if err.Details != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", err.Details)
	}
	if err.Hint != "" {
		_, _ = fmt.Fprintf(w, "%s%s\n", Colorize("Hint: ", ColorYellow, useColor), err.Hint)
	}
}

// classify turns library errors into CLIErrors.
func classify(err error) *CLIError {
	var (
		invalid *plan.ValidationError
		parse   *parser.ParseError
		task    *executor.TaskError
		missing *executor.MissingInputError
		unknown *executor.UnknownKindError
	)
	switch {
	case errors.As(err, &invalid):
		return &CLIError{
			Type:    "plan",
			Message: "plan is invalid",
			Details: "  - " + strings.Join(invalid.Problems, "\n  - "),
		}
	case errors.As(err, &parse):
		return &CLIError{Type: "eval", Message: err.Error()}
	case errors.As(err, &missing):
		return &CLIError{
			Type:    "execution",
			Message: missing.Error(),
			Hint:    fmt.Sprintf("add a task named %q before %q", missing.Input, missing.Task),
		}
	case errors.As(err, &unknown):
		return &CLIError{
			Type:    "execution",
			Message: unknown.Error(),
			Hint:    "run without --strict to skip tasks with unknown operations",
		}
	case errors.As(err, &task):
		return &CLIError{
			Type:    "execution",
			Message: fmt.Sprintf("task %q (%s) failed", task.Task, task.Kind),
			Details: task.Err.Error(),
		}
	}
	return &CLIError{Type: "error", Message: err.Error()}
}

// suggestCommand rewrites cobra's unknown-command error with the closest
// command names.
func suggestCommand(err error, commands []string) error {
	msg := err.Error()
	rest, ok := strings.CutPrefix(msg, "unknown command \"")
	if !ok {
		return err
	}
	name, _, _ := strings.Cut(rest, "\"")

	best := ""
	if ranks := fuzzy.RankFindFold(name, commands); len(ranks) > 0 {
		sort.Sort(ranks)
		best = ranks[0].Target
	} else {
		bestDist := 3
		for _, c := range commands {
			if d := fuzzy.LevenshteinDistance(name, c); d < bestDist {
				best, bestDist = c, d
			}
		}
	}

	cliErr := &CLIError{Type: "usage", Message: fmt.Sprintf("unknown command %q", name)}
	if best != "" {
		cliErr.Hint = fmt.Sprintf("did you mean %q?", best)
	} else {
		cliErr.Hint = "run 'datacube --help' for the list of commands"
	}
	return cliErr
}
