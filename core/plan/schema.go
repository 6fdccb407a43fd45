package plan

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/mod/semver"
)

const schemaURL = "schema://datacube/plan.json"

// Schema is the JSON Schema plan documents must satisfy.
const Schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "tasks"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "tasks": {"type": "array", "items": {"$ref": "#/$defs/task"}}
  },
  "$defs": {
    "range": {
      "type": "object",
      "required": ["range"],
      "additionalProperties": false,
      "properties": {
        "range": {"type": "array", "items": {"type": "number"}, "minItems": 2, "maxItems": 2}
      }
    },
    "task": {
      "type": "object",
      "required": ["name", "operation_type", "array_output"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_$]*$"},
        "operation_type": {"type": "string", "minLength": 1},
        "array_input": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "array_mask": {"type": "string"},
        "function": {"type": "string"},
        "orig_function": {"type": "string"},
        "dimension": {"type": "array", "items": {"type": "string"}, "maxItems": 2},
        "fetch": {
          "type": "object",
          "required": ["storage_type", "variables"],
          "additionalProperties": false,
          "properties": {
            "storage_type": {"type": "string", "minLength": 1},
            "dimensions": {"type": "object", "additionalProperties": {"$ref": "#/$defs/range"}},
            "variables": {"type": "array", "items": {"type": "string"}, "minItems": 1}
          }
        },
        "array_output": {
          "type": "object",
          "required": ["no_data_value"],
          "additionalProperties": false,
          "properties": {
            "no_data_value": {"type": "number"},
            "dimensions_order": {"type": "array", "items": {"type": "string"}},
            "shape": {"type": "array", "items": {"type": "integer", "minimum": 0}}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func planSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, strings.NewReader(Schema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidationError lists every problem found in a plan.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPlan, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidPlan }

// Validate checks the plan against Schema, requires a v1 format version,
// and checks what each known task kind needs. Inputs must name an earlier
// task. Unknown kinds pass; the executor decides what to do with them.
func (p *Plan) Validate() error {
	var problems []string

	s, err := planSchema()
	if err != nil {
		return fmt.Errorf("compile plan schema: %w", err)
	}
	doc, err := toJSONValue(p)
	if err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		problems = append(problems, schemaProblems(err)...)
	}

	v := p.Version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	switch {
	case !semver.IsValid(v):
		problems = append(problems, fmt.Sprintf("version %q is not a semantic version", p.Version))
	case semver.Major(v) != "v1":
		problems = append(problems, fmt.Sprintf("version %q is not supported, want v1.x", p.Version))
	}

	seen := map[string]bool{}
	for i := range p.Tasks {
		t := &p.Tasks[i]
		for _, in := range t.Inputs {
			if !seen[in] {
				problems = append(problems, fmt.Sprintf("task %q: input %q is not produced by an earlier task", t.Name, in))
			}
		}
		problems = append(problems, t.check(seen)...)
		seen[t.Name] = true
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (t *Task) check(seen map[string]bool) []string {
	var out []string
	bad := func(format string, args ...any) {
		out = append(out, fmt.Sprintf("task %q: ", t.Name)+fmt.Sprintf(format, args...))
	}
	switch t.Kind {
	case KindGetData:
		if t.Fetch == nil {
			bad("get_data needs a fetch section")
		}
	case KindExpression, KindBandMath:
		if strings.TrimSpace(t.Function) == "" {
			bad("%s needs a function", t.Kind)
		}
		if len(t.Inputs) == 0 {
			bad("%s needs at least one input", t.Kind)
		}
	case KindCloudMask:
		if len(t.Inputs) == 0 {
			bad("cloud_mask needs a data input")
		}
		if t.Mask == "" {
			bad("cloud_mask needs array_mask")
		} else if !seen[t.Mask] {
			bad("mask %q is not produced by an earlier task", t.Mask)
		}
	case KindReduction:
		if len(t.Inputs) == 0 {
			bad("reduction needs a data input")
		}
		if n := len(t.Dimension); n != 1 && n != 2 {
			bad("reduction needs one or two dimensions, got %d", n)
		}
		if len(t.Dimension) == 2 && len(t.Output.DimensionsOrder) == 0 {
			bad("a two-axis reduction needs array_output.dimensions_order")
		}
		if t.ReductionName() == "" {
			bad("reduction needs orig_function")
		}
	}
	return out
}

func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return doc, nil
}

func schemaProblems(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
