package ndarray

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// wireArray is the JSON form of an Array. NaN is encoded as null.
type wireArray struct {
	Dims   []string   `json:"dims"`
	Shape  []int      `json:"shape"`
	DType  string     `json:"dtype,omitempty"`
	NoData *float64   `json:"nodata,omitempty"`
	Data   []*float64 `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (a *Array) MarshalJSON() ([]byte, error) {
	w := wireArray{
		Dims:  a.Dims(),
		Shape: a.Shape(),
		DType: a.dtype.String(),
		Data:  make([]*float64, len(a.data)),
	}
	if a.hasNoData {
		nd := a.nodata
		w.NoData = &nd
	}
	for i, v := range a.data {
		if math.IsNaN(v) {
			continue
		}
		x := v
		w.Data[i] = &x
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Array) UnmarshalJSON(b []byte) error {
	var w wireArray
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	dt, err := ParseDType(w.DType)
	if err != nil {
		return err
	}
	data := make([]float64, len(w.Data))
	for i, v := range w.Data {
		if v == nil {
			data[i] = math.NaN()
			continue
		}
		data[i] = *v
	}
	if w.Dims == nil && w.Shape != nil {
		w.Dims = DefaultDims(len(w.Shape))
	}
	parsed, err := NewTyped(w.Dims, w.Shape, data, dt)
	if err != nil {
		return fmt.Errorf("decode array: %w", err)
	}
	*a = *parsed
	if w.NoData != nil {
		a.nodata, a.hasNoData = *w.NoData, true
	}
	return nil
}

// String renders the array with nested brackets, e.g.
//
//	<array (y: 2, x: 2) float64>
//	[[1 2]
//	 [3 NaN]]
func (a *Array) String() string {
	var b strings.Builder
	b.WriteString("<array (")
	for i, d := range a.dims {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %d", d, a.shape[i])
	}
	fmt.Fprintf(&b, ") %s>\n", a.dtype)
	a.format(&b, 0, 0)
	return b.String()
}

func (a *Array) format(b *strings.Builder, axis, off int) {
	if axis == len(a.shape) {
		b.WriteString(a.formatValue(a.data[off]))
		return
	}
	st := a.strides()
	b.WriteByte('[')
	for i := 0; i < a.shape[axis]; i++ {
		if i > 0 {
			if axis == len(a.shape)-1 {
				b.WriteByte(' ')
			} else {
				b.WriteString("\n" + strings.Repeat(" ", axis+1))
			}
		}
		a.format(b, axis+1, off+i*st[axis])
	}
	b.WriteByte(']')
}

func (a *Array) formatValue(v float64) string {
	switch a.dtype {
	case Bool:
		if v != 0 {
			return "true"
		}
		return "false"
	case Int64:
		return fmt.Sprintf("%d", int64(v))
	default:
		return fmt.Sprintf("%g", v)
	}
}
