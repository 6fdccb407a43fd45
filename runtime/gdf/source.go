// Package gdf retrieves gridded data for get_data tasks.
package gdf

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/core/plan"
)

// ErrNoData is returned when no storage unit satisfies a request.
var ErrNoData = errors.New("no data")

// DataSource answers data requests.
type DataSource interface {
	GetData(ctx context.Context, req Request) (*Response, error)
}

// Request selects variables of one storage type inside coordinate ranges.
// Dimensions without a range are returned whole.
type Request struct {
	Dimensions  map[string]plan.Range
	StorageType string
	Variables   []string
}

// RequestFor builds the request of a get_data task.
func RequestFor(f *plan.FetchSpec) Request {
	return Request{
		Dimensions:  maps.Clone(f.Dimensions),
		StorageType: f.StorageType,
		Variables:   slices.Clone(f.Variables),
	}
}

// Response holds one array per requested variable. Indices holds the
// coordinate labels of each dimension.
type Response struct {
	Arrays     map[string]*ndarray.Array
	Indices    map[string][]float64
	Dimensions []string
}

// SourceFunc adapts a function to DataSource.
type SourceFunc func(ctx context.Context, req Request) (*Response, error)

func (f SourceFunc) GetData(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Spatial dimension names, in lookup order.
var (
	xDims = []string{"longitude", "x"}
	yDims = []string{"latitude", "y"}
)

func lookupRange(dims map[string]plan.Range, names []string) (plan.Range, bool) {
	for _, n := range names {
		if r, ok := dims[n]; ok {
			return r, true
		}
	}
	return plan.Range{}, false
}
