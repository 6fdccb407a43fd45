package gdf

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/paulmach/orb"

	"github.com/opal-lang/datacube/core/ndarray"
)

type unitWire struct {
	ID          string                    `json:"id"`
	StorageType string                    `json:"storage_type"`
	Time        float64                   `json:"time"`
	Bounds      *[4]float64               `json:"bounds,omitempty"`
	Dims        []string                  `json:"dims"`
	Coords      map[string][]float64      `json:"coords"`
	Variables   map[string]*ndarray.Array `json:"variables"`
}

// DecodeUnits reads a JSON list of storage units. A unit without bounds
// gets the extent of its x and y coordinates.
func DecodeUnits(r io.Reader) ([]StorageUnit, error) {
	var wire []unitWire
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode storage units: %w", err)
	}
	units := make([]StorageUnit, 0, len(wire))
	for _, w := range wire {
		u := StorageUnit{
			ID:          w.ID,
			StorageType: w.StorageType,
			Time:        w.Time,
			Dims:        w.Dims,
			Coords:      w.Coords,
			Variables:   w.Variables,
		}
		if w.Bounds != nil {
			b := *w.Bounds
			u.Bounds = orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
		} else {
			u.Bounds = coordExtent(u.Coords)
		}
		if err := u.Validate(); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func coordExtent(coords map[string][]float64) orb.Bound {
	extent := func(names []string) (float64, float64) {
		for _, n := range names {
			c, ok := coords[n]
			if !ok || len(c) == 0 {
				continue
			}
			lo, hi := math.Inf(1), math.Inf(-1)
			for _, v := range c {
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
			return lo, hi
		}
		return math.Inf(-1), math.Inf(1)
	}
	x0, x1 := extent(xDims)
	y0, y1 := extent(yDims)
	return orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}}
}
