package reproject

import (
	"errors"
	"fmt"
)

// ErrSingular is returned when inverting a transform with no inverse.
var ErrSingular = errors.New("affine transform is not invertible")

// Affine maps pixel (col, row) to world (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Identity is the transform that leaves points unchanged.
var Identity = Affine{A: 1, E: 1}

// Translation returns a transform that shifts by (x, y).
func Translation(x, y float64) Affine {
	return Affine{A: 1, C: x, E: 1, F: y}
}

// Scale returns a transform that scales each axis.
func Scale(sx, sy float64) Affine {
	return Affine{A: sx, E: sy}
}

// Apply maps a point.
func (t Affine) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.C, t.D*x + t.E*y + t.F
}

// Mul returns t∘o: the transform that applies o first, then t.
func (t Affine) Mul(o Affine) Affine {
	return Affine{
		A: t.A*o.A + t.B*o.D,
		B: t.A*o.B + t.B*o.E,
		C: t.A*o.C + t.B*o.F + t.C,
		D: t.D*o.A + t.E*o.D,
		E: t.D*o.B + t.E*o.E,
		F: t.D*o.C + t.E*o.F + t.F,
	}
}

// Determinant of the linear part.
func (t Affine) Determinant() float64 { return t.A*t.E - t.B*t.D }

// Invert returns the inverse transform.
func (t Affine) Invert() (Affine, error) {
	det := t.Determinant()
	if det == 0 {
		return Affine{}, fmt.Errorf("%w: %v", ErrSingular, t)
	}
	ia, ib := t.E/det, -t.B/det
	id, ie := -t.D/det, t.A/det
	return Affine{
		A: ia, B: ib, C: -ia*t.C - ib*t.F,
		D: id, E: ie, F: -id*t.C - ie*t.F,
	}, nil
}

func (t Affine) String() string {
	return fmt.Sprintf("Affine(%g, %g, %g, %g, %g, %g)", t.A, t.B, t.C, t.D, t.E, t.F)
}

// Grid is a raster georeference: Transform maps pixel corners to CRS
// coordinates.
type Grid struct {
	Transform     Affine
	Width, Height int
	CRS           string
}

// Center returns the CRS coordinates of the centre of pixel (col, row).
func (g Grid) Center(col, row int) (float64, float64) {
	return g.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
}
