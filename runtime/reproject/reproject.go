// Package reproject resamples rasters from one georeferenced grid onto
// another.
package reproject

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/opal-lang/datacube/core/ndarray"
)

// DefaultNoData is written where no source pixel contributes.
const DefaultNoData = -999.0

// ErrUnsupportedCRS is returned for coordinate systems other than
// geographic WGS84 and web mercator.
var ErrUnsupportedCRS = errors.New("unsupported CRS")

const (
	crsWGS84    = "EPSG:4326"
	crsMercator = "EPSG:3857"
)

func canonicalCRS(s string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EPSG:4326", "WGS84", "CRS:84":
		return crsWGS84, nil
	case "EPSG:3857", "EPSG:900913", "EPSG:3785":
		return crsMercator, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCRS, s)
}

// Transformer returns the point mapping from CRS from to CRS to.
func Transformer(from, to string) (orb.Projection, error) {
	f, err := canonicalCRS(from)
	if err != nil {
		return nil, err
	}
	t, err := canonicalCRS(to)
	if err != nil {
		return nil, err
	}
	switch {
	case f == t:
		return func(p orb.Point) orb.Point { return p }, nil
	case f == crsWGS84:
		return project.WGS84.ToMercator, nil
	default:
		return project.Mercator.ToWGS84, nil
	}
}

// Reproject samples src, laid out on srcGrid, onto dstGrid. The last two
// dims of src are (y, x); leading dims are resampled slice by slice.
// Destination pixels with no valid source neighbourhood get nodata. NaN and
// nodata source pixels are treated as missing.
func Reproject(ctx context.Context, src *ndarray.Array, srcGrid, dstGrid Grid, nodata float64, method Method) (*ndarray.Array, error) {
	if src.NDim() < 2 {
		return nil, &ndarray.ShapeError{Op: "reproject", Message: fmt.Sprintf("need at least 2 dimensions, got %d", src.NDim())}
	}
	shape := src.Shape()
	h, w := shape[len(shape)-2], shape[len(shape)-1]
	if h != srcGrid.Height || w != srcGrid.Width {
		return nil, &ndarray.ShapeError{
			Op:      "reproject",
			Message: fmt.Sprintf("array is %dx%d but the source grid is %dx%d", h, w, srcGrid.Height, srcGrid.Width),
		}
	}
	if dstGrid.Width <= 0 || dstGrid.Height <= 0 {
		return nil, &ndarray.ShapeError{Op: "reproject", Message: "destination grid is empty"}
	}
	toSrc, err := Transformer(dstGrid.CRS, srcGrid.CRS)
	if err != nil {
		return nil, err
	}
	inv, err := srcGrid.Transform.Invert()
	if err != nil {
		return nil, err
	}

	s := &sampler{
		w: w, h: h,
		nodata: nodata,
		method: method,
		locate: func(x, y float64) (float64, float64) {
			p := toSrc(orb.Point{x, y})
			return inv.Apply(p[0], p[1])
		},
	}
	s.weight, s.radius = method.kernel()

	values := src.Values()
	planes := 1
	for _, n := range shape[:len(shape)-2] {
		planes *= n
	}
	out := make([]float64, 0, planes*dstGrid.Width*dstGrid.Height)
	for k := 0; k < planes; k++ {
		plane := values[k*h*w : (k+1)*h*w]
		for row := 0; row < dstGrid.Height; row++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for col := 0; col < dstGrid.Width; col++ {
				out = append(out, s.sample(plane, dstGrid, col, row))
			}
		}
	}

	outShape := append(shape[:len(shape)-2:len(shape)-2], dstGrid.Height, dstGrid.Width)
	arr, err := ndarray.New(src.Dims(), outShape, out)
	if err != nil {
		return nil, err
	}
	return arr.WithNoData(nodata), nil
}

type sampler struct {
	w, h   int
	nodata float64
	method Method
	weight func(float64) float64
	radius int
	locate func(x, y float64) (float64, float64)
}

// value returns the pixel at (c, r), or false when it is outside the plane
// or missing.
func (s *sampler) value(plane []float64, c, r int) (float64, bool) {
	if c < 0 || r < 0 || c >= s.w || r >= s.h {
		return 0, false
	}
	v := plane[r*s.w+c]
	if math.IsNaN(v) || v == s.nodata {
		return 0, false
	}
	return v, true
}

func (s *sampler) sample(plane []float64, dst Grid, col, row int) float64 {
	x, y := dst.Center(col, row)
	px, py := s.locate(x, y)
	if math.IsNaN(px) || math.IsNaN(py) || px < 0 || py < 0 || px >= float64(s.w) || py >= float64(s.h) {
		return s.nodata
	}

	switch s.method {
	case Nearest:
		if v, ok := s.value(plane, int(px), int(py)); ok {
			return v
		}
		return s.nodata
	case Average:
		return s.average(plane, dst, col, row)
	}

	// Kernel weights are centred on pixel centres.
	fx, fy := px-0.5, py-0.5
	cx, cy := int(math.Floor(fx)), int(math.Floor(fy))
	var sum, wsum float64
	for r := cy - s.radius + 1; r <= cy+s.radius; r++ {
		wy := s.weight(fy - float64(r))
		if wy == 0 {
			continue
		}
		for c := cx - s.radius + 1; c <= cx+s.radius; c++ {
			wx := s.weight(fx - float64(c))
			if wx == 0 {
				continue
			}
			v, ok := s.value(plane, c, r)
			if !ok {
				continue
			}
			sum += wx * wy * v
			wsum += wx * wy
		}
	}
	if math.Abs(wsum) < 1e-12 {
		return s.nodata
	}
	return sum / wsum
}

// average takes the mean of the valid source pixels whose centres fall in
// the destination pixel's footprint, falling back to nearest when the
// footprint is smaller than a source pixel.
func (s *sampler) average(plane []float64, dst Grid, col, row int) float64 {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, corner := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := dst.Transform.Apply(float64(col)+corner[0], float64(row)+corner[1])
		px, py := s.locate(x, y)
		minX, maxX = math.Min(minX, px), math.Max(maxX, px)
		minY, maxY = math.Min(minY, py), math.Max(maxY, py)
	}

	var sum float64
	var n int
	c0, c1 := int(math.Ceil(minX-0.5)), int(math.Floor(maxX-0.5))
	r0, r1 := int(math.Ceil(minY-0.5)), int(math.Floor(maxY-0.5))
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			if v, ok := s.value(plane, c, r); ok {
				sum += v
				n++
			}
		}
	}
	if n > 0 {
		return sum / float64(n)
	}
	x, y := dst.Center(col, row)
	px, py := s.locate(x, y)
	if v, ok := s.value(plane, int(px), int(py)); ok {
		return v
	}
	return s.nodata
}
