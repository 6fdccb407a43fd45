// Package plan describes execution plans: ordered, named tasks whose
// results later tasks read by name.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind selects the handler that runs a task.
type Kind string

const (
	KindGetData    Kind = "get_data"
	KindExpression Kind = "expression"
	KindBandMath   Kind = "bandmath"
	KindCloudMask  Kind = "cloud_mask"
	KindReduction  Kind = "reduction"
)

// Kinds lists the kinds the executor handles.
var Kinds = []Kind{KindGetData, KindExpression, KindBandMath, KindCloudMask, KindReduction}

// Known reports whether k is one of Kinds.
func (k Kind) Known() bool { return slices.Contains(Kinds, k) }

// CurrentVersion is written by tools that produce plans.
const CurrentVersion = "v1.0.0"

// ErrInvalidPlan is wrapped by decoding and validation failures.
var ErrInvalidPlan = errors.New("invalid plan")

// Range is an inclusive coordinate interval. It is written as
// {"range": [lo, hi]}.
type Range struct {
	Lo, Hi float64
}

type rangeWire struct {
	Range [2]float64 `json:"range" yaml:"range"`
}

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal(rangeWire{Range: [2]float64{r.Lo, r.Hi}})
}

func (r *Range) UnmarshalJSON(b []byte) error {
	var w rangeWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	r.Lo, r.Hi = w.Range[0], w.Range[1]
	return nil
}

func (r Range) MarshalYAML() (any, error) {
	return rangeWire{Range: [2]float64{r.Lo, r.Hi}}, nil
}

func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	var w rangeWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	r.Lo, r.Hi = w.Range[0], w.Range[1]
	return nil
}

// Contains reports whether v lies in [Lo, Hi].
func (r Range) Contains(v float64) bool { return v >= r.Lo && v <= r.Hi }

// FetchSpec is the data request of a get_data task.
type FetchSpec struct {
	StorageType string           `json:"storage_type" yaml:"storage_type"`
	Dimensions  map[string]Range `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Variables   []string         `json:"variables" yaml:"variables"`
}

// Output describes a task's result.
type Output struct {
	NoDataValue     float64  `json:"no_data_value" yaml:"no_data_value" msgpack:"no_data_value"`
	DimensionsOrder []string `json:"dimensions_order,omitempty" yaml:"dimensions_order,omitempty" msgpack:"dimensions_order"`
	Shape           []int    `json:"shape,omitempty" yaml:"shape,omitempty" msgpack:"shape"`
}

// Task is one unit of work. Inputs name earlier tasks.
type Task struct {
	Name   string   `json:"name" yaml:"name"`
	Kind   Kind     `json:"operation_type" yaml:"operation_type"`
	Inputs []string `json:"array_input,omitempty" yaml:"array_input,omitempty"`

	// Mask names the quality task of a cloud_mask task.
	Mask string `json:"array_mask,omitempty" yaml:"array_mask,omitempty"`

	// Function is the expression text for expression and bandmath tasks.
	Function string `json:"function,omitempty" yaml:"function,omitempty"`

	// OrigFunction is the user's call text, e.g. "median(ndvi)"; reductions
	// take their function name from it.
	OrigFunction string `json:"orig_function,omitempty" yaml:"orig_function,omitempty"`

	// Dimension names the one or two axes a reduction collapses.
	Dimension []string `json:"dimension,omitempty" yaml:"dimension,omitempty"`

	Fetch  *FetchSpec `json:"fetch,omitempty" yaml:"fetch,omitempty"`
	Output Output     `json:"array_output" yaml:"array_output"`
}

// ReductionName returns the function name in OrigFunction, the text before
// the first parenthesis.
func (t *Task) ReductionName() string {
	f := strings.NewReplacer("(", " ", ")", " ").Replace(t.OrigFunction)
	if fields := strings.Fields(f); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func (t *Task) String() string {
	return fmt.Sprintf("%s(%s)", t.Name, t.Kind)
}

// Plan is an ordered task list. The executor runs tasks in order and does
// not reorder them.
type Plan struct {
	Version string `json:"version" yaml:"version"`
	Tasks   []Task `json:"tasks" yaml:"tasks"`
}

// Task returns the last task named name.
func (p *Plan) Task(name string) (*Task, bool) {
	for i := len(p.Tasks) - 1; i >= 0; i-- {
		if p.Tasks[i].Name == name {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// Names returns task names in plan order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Tasks))
	for i, t := range p.Tasks {
		names[i] = t.Name
	}
	return names
}
