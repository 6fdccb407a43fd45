// Package export writes executor results as Arrow IPC streams.
//
// An entry becomes one record batch in long form: a column per dimension
// followed by a Float64 column per result array, one row per cell in
// row-major order. Dimensions with coordinate labels are Float64 columns;
// the rest carry Int64 positions.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/runtime/executor"
)

// Schema metadata keys.
const (
	MetaDimensions  = "dimensions"
	MetaShape       = "shape"
	MetaNoDataValue = "no_data_value"
)

// ErrEmpty is returned for an entry without arrays.
var ErrEmpty = errors.New("entry has no arrays")

// WriteArrow writes e to w as a single-batch Arrow IPC stream. All arrays
// of e must share the first array's dims and shape. NaN and no-data cells
// are written as nulls.
func WriteArrow(w io.Writer, e *executor.Entry) error {
	ref := e.Array()
	if ref == nil {
		return ErrEmpty
	}
	keys := e.Keys()
	for _, k := range keys {
		if !ref.SameShape(e.Result[k]) || !slices.Equal(ref.Dims(), e.Result[k].Dims()) {
			return fmt.Errorf("export: array %q is %v %v, want %v %v",
				k, e.Result[k].Dims(), e.Result[k].Shape(), ref.Dims(), ref.Shape())
		}
	}

	dims, shape := ref.Dims(), ref.Shape()
	if dup := duplicate(dims, keys); dup != "" {
		return fmt.Errorf("export: column %q is both a dimension and an array", dup)
	}

	fields := make([]arrow.Field, 0, len(dims)+len(keys))
	labelled := make([]bool, len(dims))
	for i, d := range dims {
		labelled[i] = len(e.Indices[d]) == shape[i]
		typ := arrow.DataType(arrow.PrimitiveTypes.Int64)
		if labelled[i] {
			typ = arrow.PrimitiveTypes.Float64
		}
		fields = append(fields, arrow.Field{Name: d, Type: typ})
	}
	for _, k := range keys {
		fields = append(fields, arrow.Field{Name: k, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}

	shapeText := make([]string, len(shape))
	for i, n := range shape {
		shapeText[i] = strconv.Itoa(n)
	}
	md := arrow.NewMetadata(
		[]string{MetaDimensions, MetaShape, MetaNoDataValue},
		[]string{strings.Join(dims, ","), strings.Join(shapeText, ","), strconv.FormatFloat(e.Output.NoDataValue, 'g', -1, 64)},
	)
	schema := arrow.NewSchema(fields, &md)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	rows := ref.Size()
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	for i, d := range dims {
		col := builder.Field(i)
		col.Reserve(rows)
		for r := 0; r < rows; r++ {
			pos := (r / strides[i]) % shape[i]
			if labelled[i] {
				col.(*array.Float64Builder).Append(e.Indices[d][pos])
			} else {
				col.(*array.Int64Builder).Append(int64(pos))
			}
		}
	}
	for j, k := range keys {
		a := e.Result[k]
		nd, hasNoData := a.NoData()
		col := builder.Field(len(dims) + j).(*array.Float64Builder)
		col.Reserve(rows)
		for _, v := range a.Values() {
			if math.IsNaN(v) || (hasNoData && v == nd) {
				col.AppendNull()
				continue
			}
			col.Append(v)
		}
	}

	record := builder.NewRecordBatch()
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("write arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close arrow writer: %w", err)
	}
	return nil
}

func duplicate(dims, keys []string) string {
	for _, k := range keys {
		if slices.Contains(dims, k) {
			return k
		}
	}
	return ""
}

// ReadArrow reads a stream written by WriteArrow. Null cells come back as
// the stream's no_data_value, which is also set as each array's no-data.
func ReadArrow(r io.Reader) (*executor.Entry, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer reader.Release()

	schema := reader.Schema()
	dims, shape, nodata, err := readMetadata(schema.Metadata())
	if err != nil {
		return nil, err
	}
	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("read arrow record: %w", err)
		}
		return nil, fmt.Errorf("arrow stream has no record batch")
	}
	record := reader.RecordBatch()

	rows := 1
	for _, n := range shape {
		rows *= n
	}
	if int(record.NumRows()) != rows {
		return nil, fmt.Errorf("arrow record has %d rows, shape %v needs %d", record.NumRows(), shape, rows)
	}
	if int(record.NumCols()) < len(dims) {
		return nil, fmt.Errorf("arrow record has %d columns, want at least %d", record.NumCols(), len(dims))
	}

	e := &executor.Entry{
		Result:     map[string]*ndarray.Array{},
		Indices:    map[string][]float64{},
		Dimensions: slices.Clone(dims),
	}
	e.Output.NoDataValue = nodata

	stride := rows
	for i, d := range dims {
		if rows == 0 {
			break
		}
		stride /= shape[i]
		if labels, ok := record.Column(i).(*array.Float64); ok {
			idx := make([]float64, shape[i])
			for p := range idx {
				idx[p] = labels.Value(p * stride)
			}
			e.Indices[d] = idx
		}
	}

	for c := len(dims); c < int(record.NumCols()); c++ {
		name := schema.Field(c).Name
		col, ok := record.Column(c).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("arrow column %q is %s, want float64", name, record.Column(c).DataType())
		}
		data := make([]float64, col.Len())
		for p := range data {
			if col.IsNull(p) {
				data[p] = nodata
				continue
			}
			data[p] = col.Value(p)
		}
		a, err := ndarray.New(dims, shape, data)
		if err != nil {
			return nil, fmt.Errorf("arrow column %q: %w", name, err)
		}
		e.Result[name] = a.WithNoData(nodata)
	}
	return e, nil
}

func readMetadata(md arrow.Metadata) (dims []string, shape []int, nodata float64, err error) {
	get := func(key string) (string, bool) {
		i := md.FindKey(key)
		if i < 0 {
			return "", false
		}
		return md.Values()[i], true
	}

	dimText, ok := get(MetaDimensions)
	if !ok {
		return nil, nil, 0, fmt.Errorf("arrow schema has no %q metadata", MetaDimensions)
	}
	shapeText, _ := get(MetaShape)
	if dimText != "" {
		dims = strings.Split(dimText, ",")
	}
	if shapeText != "" {
		for _, s := range strings.Split(shapeText, ",") {
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("arrow shape metadata %q: %w", shapeText, err)
			}
			shape = append(shape, n)
		}
	}
	if len(shape) != len(dims) {
		return nil, nil, 0, fmt.Errorf("arrow metadata has %d dimensions and %d sizes", len(dims), len(shape))
	}
	if v, ok := get(MetaNoDataValue); ok {
		if nodata, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, nil, 0, fmt.Errorf("arrow no_data_value metadata %q: %w", v, err)
		}
	}
	return dims, shape, nodata, nil
}
