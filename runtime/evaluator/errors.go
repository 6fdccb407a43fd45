package evaluator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// ErrEvaluation is matched by every error the evaluator returns.
var ErrEvaluation = errors.New("evaluation error")

// NameError reports a variable missing from the environment.
type NameError struct {
	Name       string
	Suggestion string
}

func (e *NameError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("name %q is not defined (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("name %q is not defined", e.Name)
}

func (e *NameError) Is(target error) bool { return target == ErrEvaluation }

// EvalError is a failure while executing an instruction. Err, when set, is
// the underlying ndarray or mask error.
type EvalError struct {
	Op      string
	Message string
	Err     error
}

func (e *EvalError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return "evaluate: " + msg
	}
	return fmt.Sprintf("evaluate %s: %s", e.Op, msg)
}

func (e *EvalError) Unwrap() error { return e.Err }

func (e *EvalError) Is(target error) bool { return target == ErrEvaluation }

// closest returns the candidate nearest to target, or "" when nothing is
// close enough to be worth suggesting.
func closest(target string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	best, bestDist := "", 3
	for _, c := range candidates {
		if d := fuzzy.LevenshteinDistance(target, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
