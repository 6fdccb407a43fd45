// Package snapshot persists executor results so a later process can
// restore its cache.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/core/plan"
	"github.com/opal-lang/datacube/runtime/executor"
)

var (
	// ErrNotFound is returned when a store has no snapshot of a name.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt is returned for data that is not a snapshot.
	ErrCorrupt = errors.New("corrupt snapshot")
)

// magic prefixes every encoded snapshot.
var magic = []byte("DCS1")

type arrayWire struct {
	Dims   []string  `msgpack:"dims"`
	Shape  []int     `msgpack:"shape"`
	DType  string    `msgpack:"dtype"`
	Data   []float64 `msgpack:"data"`
	NoData *float64  `msgpack:"nodata,omitempty"`
}

type entryWire struct {
	Result     map[string]arrayWire `msgpack:"result"`
	Indices    map[string][]float64 `msgpack:"indices"`
	Dimensions []string             `msgpack:"dimensions"`
	Output     plan.Output          `msgpack:"output"`
}

var (
	encoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	decoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// Encode serialises an entry as zstd-compressed MessagePack.
func Encode(e *executor.Entry) ([]byte, error) {
	w := entryWire{
		Result:     make(map[string]arrayWire, len(e.Result)),
		Indices:    e.Indices,
		Dimensions: e.Dimensions,
		Output:     e.Output,
	}
	for name, a := range e.Result {
		aw := arrayWire{Dims: a.Dims(), Shape: a.Shape(), DType: a.DType().String(), Data: a.Values()}
		if nd, ok := a.NoData(); ok {
			aw.NoData = &nd
		}
		w.Result[name] = aw
	}
	raw, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	enc, err := encoder()
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return enc.EncodeAll(raw, bytes.Clone(magic)), nil
}

// Decode reverses Encode.
func Decode(data []byte) (*executor.Entry, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	dec, err := decoder()
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	raw, err := dec.DecodeAll(data[len(magic):], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	var w entryWire
	if err := msgpack.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	e := &executor.Entry{
		Result:     make(map[string]*ndarray.Array, len(w.Result)),
		Indices:    w.Indices,
		Dimensions: w.Dimensions,
		Output:     w.Output,
	}
	if e.Indices == nil {
		e.Indices = map[string][]float64{}
	}
	for name, aw := range w.Result {
		dt, err := ndarray.ParseDType(aw.DType)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
		}
		if aw.Data == nil {
			aw.Data = []float64{}
		}
		a, err := ndarray.NewTyped(aw.Dims, aw.Shape, aw.Data, dt)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
		}
		if aw.NoData != nil {
			a = a.WithNoData(*aw.NoData)
		}
		e.Result[name] = a
	}
	return e, nil
}
