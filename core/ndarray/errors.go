package ndarray

import "fmt"

// ShapeError reports operands whose shapes cannot be combined.
type ShapeError struct {
	Op      string
	Message string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: %s", e.Op, e.Message)
}

// TypeError reports an operation applied to an unsupported dtype, or an
// ambiguous truth value.
type TypeError struct {
	Op      string
	Message string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error in %s: %s", e.Op, e.Message)
}

// IndexError reports an out-of-range index or axis.
type IndexError struct {
	Axis    int
	Index   int
	Length  int
	Message string
}

func (e *IndexError) Error() string {
	if e.Message != "" {
		return "index error: " + e.Message
	}
	return fmt.Sprintf("index %d is out of bounds for axis %d with size %d", e.Index, e.Axis, e.Length)
}

// ValueError reports inputs a reduction cannot handle, such as an all-NaN
// slice passed to argmax.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}
