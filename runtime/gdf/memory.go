package gdf

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/paulmach/orb"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/core/plan"
)

// TimeDim is the dimension multiple storage units are stacked along.
const TimeDim = "time"

// StorageUnit is one tile of one storage type at one time.
type StorageUnit struct {
	ID          string
	StorageType string
	Time        float64
	Bounds      orb.Bound

	// Coords holds the labels of each dimension in Dims.
	Coords    map[string][]float64
	Dims      []string
	Variables map[string]*ndarray.Array
}

// Validate checks that coordinates and variables agree with Dims.
func (u *StorageUnit) Validate() error {
	if u.ID == "" || u.StorageType == "" {
		return fmt.Errorf("storage unit needs an id and a storage type")
	}
	shape := make([]int, len(u.Dims))
	for i, d := range u.Dims {
		c, ok := u.Coords[d]
		if !ok {
			return fmt.Errorf("storage unit %s: no coordinates for %q", u.ID, d)
		}
		shape[i] = len(c)
	}
	for name, v := range u.Variables {
		if !slices.Equal(v.Dims(), u.Dims) || !slices.Equal(v.Shape(), shape) {
			return &ndarray.ShapeError{
				Op:      "storage unit",
				Message: fmt.Sprintf("%s/%s is %v%v, want %v%v", u.ID, name, v.Dims(), v.Shape(), u.Dims, shape),
			}
		}
	}
	return nil
}

// MemorySource serves storage units held in memory. When a Catalog is
// attached, unit search goes through it.
type MemorySource struct {
	mu      sync.RWMutex
	units   map[string]*StorageUnit
	catalog *Catalog
	logger  *slog.Logger
}

// MemoryOption configures a MemorySource.
type MemoryOption func(*MemorySource)

// WithCatalog indexes added units in c and searches through it.
func WithCatalog(c *Catalog) MemoryOption {
	return func(m *MemorySource) { m.catalog = c }
}

// WithSourceLogger sets the logger. The default is slog.Default().
func WithSourceLogger(l *slog.Logger) MemoryOption {
	return func(m *MemorySource) { m.logger = l }
}

// NewMemorySource returns an empty source.
func NewMemorySource(opts ...MemoryOption) *MemorySource {
	m := &MemorySource{units: map[string]*StorageUnit{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers a unit, replacing any unit with the same ID.
func (m *MemorySource) Add(ctx context.Context, unit StorageUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	if m.catalog != nil {
		if err := m.catalog.IndexUnit(ctx, &unit); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[unit.ID] = &unit
	return nil
}

// Len returns the number of units.
func (m *MemorySource) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.units)
}

// GetData crops every matching unit to the requested ranges and stacks the
// units along TimeDim in time order.
func (m *MemorySource) GetData(ctx context.Context, req Request) (*Response, error) {
	units, err := m.search(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: storage type %q has no units in the requested ranges", ErrNoData, req.StorageType)
	}

	first := units[0]
	if slices.Contains(first.Dims, TimeDim) {
		return nil, &ndarray.ShapeError{Op: "get_data", Message: fmt.Sprintf("storage unit %s already has a %q dimension", first.ID, TimeDim)}
	}

	resp := &Response{
		Arrays:     map[string]*ndarray.Array{},
		Indices:    map[string][]float64{TimeDim: {}},
		Dimensions: append([]string{TimeDim}, first.Dims...),
	}
	for _, u := range units {
		resp.Indices[TimeDim] = append(resp.Indices[TimeDim], u.Time)
	}
	sel, coords, err := crop(first, req.Dimensions)
	if err != nil {
		return nil, err
	}
	for d, c := range coords {
		resp.Indices[d] = c
	}

	for _, name := range req.Variables {
		parts := make([]*ndarray.Array, 0, len(units))
		for _, u := range units {
			v, ok := u.Variables[name]
			if !ok {
				return nil, fmt.Errorf("%w: storage unit %s has no variable %q", ErrNoData, u.ID, name)
			}
			usel := sel
			if u != first {
				if usel, _, err = crop(u, req.Dimensions); err != nil {
					return nil, err
				}
			}
			part, err := v.Select(usel)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		stacked, err := ndarray.Stack(TimeDim, parts...)
		if err != nil {
			return nil, fmt.Errorf("get_data %s: %w", name, err)
		}
		resp.Arrays[name] = stacked
	}
	m.logger.Debug("data retrieved",
		"storage_type", req.StorageType,
		"units", len(units),
		"variables", len(req.Variables))
	return resp, nil
}

// search returns matching units in time order.
func (m *MemorySource) search(ctx context.Context, req Request) ([]*StorageUnit, error) {
	bound, spatial := requestBound(req.Dimensions)
	timeRange, timed := req.Dimensions[TimeDim]

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*StorageUnit
	if m.catalog != nil {
		var tr *plan.Range
		if timed {
			tr = &timeRange
		}
		var b *orb.Bound
		if spatial {
			b = &bound
		}
		records, err := m.catalog.SearchUnits(ctx, req.StorageType, b, tr)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if u, ok := m.units[r.ID]; ok {
				out = append(out, u)
			}
		}
		return out, nil
	}

	for _, u := range m.units {
		if u.StorageType != req.StorageType {
			continue
		}
		if spatial && !u.Bounds.Intersects(bound) {
			continue
		}
		if timed && !timeRange.Contains(u.Time) {
			continue
		}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b *StorageUnit) int {
		if c := cmp.Compare(a.Time, b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// requestBound returns the X/Y box of a request. Missing axes are
// unbounded.
func requestBound(dims map[string]plan.Range) (orb.Bound, bool) {
	xr, hasX := lookupRange(dims, xDims)
	yr, hasY := lookupRange(dims, yDims)
	if !hasX && !hasY {
		return orb.Bound{}, false
	}
	if !hasX {
		xr = plan.Range{Lo: math.Inf(-1), Hi: math.Inf(1)}
	}
	if !hasY {
		yr = plan.Range{Lo: math.Inf(-1), Hi: math.Inf(1)}
	}
	return orb.Bound{
		Min: orb.Point{math.Min(xr.Lo, xr.Hi), math.Min(yr.Lo, yr.Hi)},
		Max: orb.Point{math.Max(xr.Lo, xr.Hi), math.Max(yr.Lo, yr.Hi)},
	}, true
}

// crop returns the selectors that keep coordinates inside the requested
// ranges, and the kept coordinate labels.
func crop(u *StorageUnit, ranges map[string]plan.Range) (map[string]ndarray.Selector, map[string][]float64, error) {
	sel := map[string]ndarray.Selector{}
	coords := map[string][]float64{}
	for _, d := range u.Dims {
		c := u.Coords[d]
		r, ok := ranges[d]
		if !ok {
			coords[d] = slices.Clone(c)
			continue
		}
		lo, hi := math.Min(r.Lo, r.Hi), math.Max(r.Lo, r.Hi)
		first, last := -1, -1
		for i, v := range c {
			if v >= lo && v <= hi {
				if first < 0 {
					first = i
				}
				last = i
			}
		}
		if first < 0 {
			return nil, nil, fmt.Errorf("%w: storage unit %s has no %s coordinates in [%g, %g]", ErrNoData, u.ID, d, lo, hi)
		}
		sel[d] = ndarray.Span(first, last+1)
		coords[d] = slices.Clone(c[first : last+1])
	}
	return sel, coords, nil
}
