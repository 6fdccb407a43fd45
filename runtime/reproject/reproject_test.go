package reproject

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/datacube/core/ndarray"
)

func TestAffine(t *testing.T) {
	tr := Affine{A: 25, C: 1500000, E: -25, F: -3900000}
	x, y := tr.Apply(4, 2)
	assert.Equal(t, 1500100.0, x)
	assert.Equal(t, -3900050.0, y)

	inv, err := tr.Invert()
	require.NoError(t, err)
	col, row := inv.Apply(x, y)
	assert.InDelta(t, 4, col, 1e-9)
	assert.InDelta(t, 2, row, 1e-9)

	composed := Translation(10, 20).Mul(Scale(2, 3))
	x, y = composed.Apply(1, 1)
	assert.Equal(t, 12.0, x)
	assert.Equal(t, 23.0, y)
	assert.Equal(t, Identity, Identity.Mul(Identity))

	_, err = Affine{A: 1, B: 2, D: 2, E: 4}.Invert()
	assert.ErrorIs(t, err, ErrSingular)
}

func TestParseMethod(t *testing.T) {
	tests := map[string]Method{
		"nearest":      Nearest,
		"NEAR":         Nearest,
		"Bilinear":     Bilinear,
		"cubic":        Cubic,
		"cubic_spline": CubicSpline,
		"lanczos":      Lanczos,
		" average ":    Average,
	}
	for in, want := range tests {
		got, err := ParseMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMethod("mode")
	assert.Error(t, err)
	assert.Equal(t, "cubic_spline", CubicSpline.String())
}

func row(t *testing.T, values ...float64) *ndarray.Array {
	t.Helper()
	a, err := ndarray.New([]string{"y", "x"}, []int{1, len(values)}, values)
	require.NoError(t, err)
	return a
}

func TestReprojectRow(t *testing.T) {
	src := Grid{Transform: Identity, Width: 4, Height: 1, CRS: "EPSG:4326"}
	tests := []struct {
		name   string
		values []float64
		dst    Grid
		method Method
		want   []float64
	}{
		{
			name:   "identity nearest",
			values: []float64{0, 10, 20, 30},
			dst:    src,
			method: Nearest,
			want:   []float64{0, 10, 20, 30},
		},
		{
			name:   "bilinear halfway",
			values: []float64{0, 10, 20, 30},
			dst:    Grid{Transform: Translation(0.5, 0), Width: 3, Height: 1, CRS: "EPSG:4326"},
			method: Bilinear,
			want:   []float64{5, 15, 25},
		},
		{
			name:   "outside source is nodata",
			values: []float64{0, 10, 20, 30},
			dst:    Grid{Transform: Translation(2, 0), Width: 4, Height: 1, CRS: "EPSG:4326"},
			method: Nearest,
			want:   []float64{20, 30, DefaultNoData, DefaultNoData},
		},
		{
			name:   "missing neighbours are skipped",
			values: []float64{0, math.NaN(), 20, DefaultNoData},
			dst:    Grid{Transform: Translation(0.5, 0), Width: 3, Height: 1, CRS: "EPSG:4326"},
			method: Bilinear,
			want:   []float64{0, 20, 20},
		},
		{
			name:   "cubic on a constant field",
			values: []float64{7, 7, 7, 7},
			dst:    Grid{Transform: Translation(0.25, 0), Width: 3, Height: 1, CRS: "EPSG:4326"},
			method: Cubic,
			want:   []float64{7, 7, 7},
		},
		{
			name:   "lanczos on a constant field",
			values: []float64{3, 3, 3, 3},
			dst:    Grid{Transform: Translation(0.3, 0), Width: 3, Height: 1, CRS: "EPSG:4326"},
			method: Lanczos,
			want:   []float64{3, 3, 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reproject(context.Background(), row(t, tt.values...), src, tt.dst, DefaultNoData, tt.method)
			require.NoError(t, err)
			assert.Equal(t, []int{1, tt.dst.Width}, got.Shape())
			if diff := cmp.Diff(tt.want, got.Values(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
			nd, ok := got.NoData()
			assert.True(t, ok)
			assert.Equal(t, DefaultNoData, nd)
		})
	}
}

func TestReprojectAverage(t *testing.T) {
	src, err := ndarray.New([]string{"y", "x"}, []int{2, 2}, []float64{1, 2, 3, 5})
	require.NoError(t, err)
	srcGrid := Grid{Transform: Identity, Width: 2, Height: 2, CRS: "EPSG:3857"}
	dstGrid := Grid{Transform: Scale(2, 2), Width: 1, Height: 1, CRS: "EPSG:3857"}

	got, err := Reproject(context.Background(), src, srcGrid, dstGrid, -1, Average)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.75}, got.Values())
}

func TestReprojectLeadingDims(t *testing.T) {
	src, err := ndarray.New([]string{"time", "y", "x"}, []int{2, 1, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	grid := Grid{Transform: Identity, Width: 2, Height: 1, CRS: "EPSG:4326"}

	got, err := Reproject(context.Background(), src, grid, grid, DefaultNoData, Nearest)
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "y", "x"}, got.Dims())
	assert.Equal(t, []float64{1, 2, 3, 4}, got.Values())
}

func TestReprojectAcrossCRS(t *testing.T) {
	// Two by two degrees, north up.
	src, err := ndarray.New([]string{"latitude", "longitude"}, []int{2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	srcGrid := Grid{Transform: Affine{A: 1, E: -1, F: 2}, Width: 2, Height: 2, CRS: "EPSG:4326"}

	tests := []struct {
		lon, lat float64
		want     float64
	}{
		{0.5, 1.5, 1},
		{1.5, 1.5, 2},
		{0.5, 0.5, 3},
		{1.5, 0.5, 4},
	}
	for _, tt := range tests {
		p := project.WGS84.ToMercator(orb.Point{tt.lon, tt.lat})
		dst := Grid{Transform: Affine{A: 1, C: p[0] - 0.5, E: -1, F: p[1] + 0.5}, Width: 1, Height: 1, CRS: "EPSG:3857"}
		got, err := Reproject(context.Background(), src, srcGrid, dst, DefaultNoData, Nearest)
		require.NoError(t, err)
		assert.Equal(t, []float64{tt.want}, got.Values(), "lon %g lat %g", tt.lon, tt.lat)
	}
}

func TestReprojectErrors(t *testing.T) {
	grid := Grid{Transform: Identity, Width: 2, Height: 1, CRS: "EPSG:4326"}
	src := row(t, 1, 2)

	_, err := Reproject(context.Background(), src, grid, Grid{Transform: Identity, Width: 1, Height: 1, CRS: "EPSG:28355"}, DefaultNoData, Nearest)
	assert.ErrorIs(t, err, ErrUnsupportedCRS)

	_, err = Reproject(context.Background(), src, Grid{Transform: Identity, Width: 3, Height: 1, CRS: "EPSG:4326"}, grid, DefaultNoData, Nearest)
	var se *ndarray.ShapeError
	assert.ErrorAs(t, err, &se)

	_, err = Reproject(context.Background(), ndarray.Scalar(1), grid, grid, DefaultNoData, Nearest)
	assert.ErrorAs(t, err, &se)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Reproject(ctx, src, grid, grid, DefaultNoData, Nearest)
	assert.ErrorIs(t, err, context.Canceled)
}
