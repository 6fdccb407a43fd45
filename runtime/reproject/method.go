package reproject

import (
	"fmt"
	"math"
	"strings"
)

// Method is a resampling kernel.
type Method uint8

const (
	Nearest Method = iota
	Bilinear
	Cubic
	CubicSpline
	Lanczos
	Average
)

var methodNames = map[string]Method{
	"nearest":      Nearest,
	"near":         Nearest,
	"bilinear":     Bilinear,
	"cubic":        Cubic,
	"cubic_spline": CubicSpline,
	"lanczos":      Lanczos,
	"average":      Average,
}

// ParseMethod accepts the resampling names used by storage mappings, in any
// case.
func ParseMethod(s string) (Method, error) {
	m, ok := methodNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown resampling method %q", s)
	}
	return m, nil
}

func (m Method) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Cubic:
		return "cubic"
	case CubicSpline:
		return "cubic_spline"
	case Lanczos:
		return "lanczos"
	case Average:
		return "average"
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

// kernel returns the separable weight function and its support radius.
func (m Method) kernel() (func(float64) float64, int) {
	switch m {
	case Bilinear:
		return triangle, 1
	case Cubic:
		return keys, 2
	case CubicSpline:
		return bspline, 2
	case Lanczos:
		return lanczos3, 3
	}
	return nil, 0
}

func triangle(t float64) float64 {
	t = math.Abs(t)
	if t < 1 {
		return 1 - t
	}
	return 0
}

// keys is the Catmull-Rom cubic convolution kernel (a = -0.5).
func keys(t float64) float64 {
	const a = -0.5
	t = math.Abs(t)
	switch {
	case t <= 1:
		return (a+2)*t*t*t - (a+3)*t*t + 1
	case t < 2:
		return a*t*t*t - 5*a*t*t + 8*a*t - 4*a
	}
	return 0
}

func bspline(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return (4 - 6*t*t + 3*t*t*t) / 6
	case t < 2:
		u := 2 - t
		return u * u * u / 6
	}
	return 0
}

func lanczos3(t float64) float64 {
	const a = 3
	t = math.Abs(t)
	switch {
	case t == 0:
		return 1
	case t < a:
		pt := math.Pi * t
		return a * math.Sin(pt) * math.Sin(pt/a) / (pt * pt)
	}
	return 0
}
