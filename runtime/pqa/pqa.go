// Package pqa builds pixel validity masks from pixel-quality bitmasks.
//
// A quality code packs one "clear" flag per defect class; a set bit means
// the class was not detected. The cloud and cloud-shadow flags are grown by
// Dilation pixels before the code is compared against a list of known good
// values, so a pixel near a detected cloud is rejected too.
package pqa

import (
	"errors"
	"fmt"

	"github.com/opal-lang/datacube/core/ndarray"
)

const (
	// SaturationBit6 is forced on before comparison; it is always zero for
	// some sensors.
	SaturationBit6 = 64

	CloudACCABit    = 10
	CloudFmaskBit   = 11
	ShadowACCABit   = 12
	ShadowFmaskBit  = 13
	DefaultDilation = 3
)

// DilatedBits are the flags grown by the policy's dilation, in order.
var DilatedBits = [...]uint{CloudACCABit, CloudFmaskBit, ShadowACCABit, ShadowFmaskBit}

// ErrInvalidPolicy is wrapped by Policy.Validate failures.
var ErrInvalidPolicy = errors.New("invalid mask policy")

// Policy controls mask construction.
type Policy struct {
	GoodValues []int64 `yaml:"good_values" json:"good_values" msgpack:"good_values"`
	Dilation   int     `yaml:"dilation" json:"dilation" msgpack:"dilation"`
}

// DefaultPolicy returns the Landsat PQ25 defaults.
func DefaultPolicy() Policy {
	return Policy{GoodValues: []int64{32767, 16383, 2457}, Dilation: DefaultDilation}
}

// Validate reports a negative dilation or an empty good-value list.
func (p Policy) Validate() error {
	if p.Dilation < 0 {
		return fmt.Errorf("%w: dilation must be >= 0, got %d", ErrInvalidPolicy, p.Dilation)
	}
	if len(p.GoodValues) == 0 {
		return fmt.Errorf("%w: at least one good value is required", ErrInvalidPolicy)
	}
	return nil
}

// Mask returns a Bool array shaped like quality, true where the pixel is
// valid. quality is a single 2-D observation (y, x) or a stack of them with
// the observation axis first.
func Mask(quality *ndarray.Array, p Policy) (*ndarray.Array, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	shape := quality.Shape()
	var planes, h, w int
	switch len(shape) {
	case 2:
		planes, h, w = 1, shape[0], shape[1]
	case 3:
		planes, h, w = shape[0], shape[1], shape[2]
	default:
		return nil, &ndarray.ShapeError{Op: "pqa", Message: fmt.Sprintf("quality array must be 2-D or 3-D, got %d-D", len(shape))}
	}

	codes := quality.Cast(ndarray.Int64).Ints()
	good := make(map[int64]bool, len(p.GoodValues))
	for _, v := range p.GoodValues {
		good[v] = true
	}

	valid := make([]bool, len(codes))
	n := h * w
	for i := 0; i < planes; i++ {
		plane := Dilate(codes[i*n:(i+1)*n], h, w, p.Dilation)
		for j, v := range plane {
			valid[i*n+j] = good[v]
		}
	}
	return ndarray.FromBools(quality.Dims(), shape, valid)
}

// Dilate applies the bit 6 normalisation and grows each flag in DilatedBits
// for one h×w plane, returning the adjusted codes. The input is not
// modified.
//
// For each flag the indicator is eroded with a full 3×3 structuring element
// iterated radius times, borders counting as set. Where the erosion differs
// from the indicator, 1<<bit is added to the code. The addition carries into
// higher bits, so a pixel that loses one flag also loses the flags above it.
func Dilate(codes []int64, h, w, radius int) []int64 {
	out := make([]int64, len(codes))
	for i, v := range codes {
		out[i] = v | SaturationBit6
	}
	ind := make([]uint8, len(codes))
	for _, bit := range DilatedBits {
		for i, v := range out {
			ind[i] = uint8((v >> bit) & 1)
		}
		eroded := erode(ind, h, w, radius)
		for i := range out {
			if eroded[i] != ind[i] {
				out[i] += 1 << bit
			}
		}
	}
	return out
}

// erode is a binary erosion by a (2r+1)² square with border value 1,
// computed as two separable running-minimum passes.
func erode(in []uint8, h, w, r int) []uint8 {
	if r == 0 {
		out := make([]uint8, len(in))
		copy(out, in)
		return out
	}
	rows := make([]uint8, len(in))
	for y := 0; y < h; y++ {
		minFilter(in[y*w:(y+1)*w], rows[y*w:(y+1)*w], r)
	}
	out := make([]uint8, len(in))
	col := make([]uint8, h)
	res := make([]uint8, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = rows[y*w+x]
		}
		minFilter(col, res, r)
		for y := 0; y < h; y++ {
			out[y*w+x] = res[y]
		}
	}
	return out
}

// minFilter writes to dst the minimum of src over a window of radius r.
// Positions outside [0, n) are treated as 1. Values are 0 or 1, so the
// minimum is 0 iff a zero lies within r, tracked by the last zero seen.
func minFilter(src, dst []uint8, r int) {
	n := len(src)
	lastZero := -1 << 30
	for i := 0; i < n; i++ {
		if src[i] == 0 {
			lastZero = i
		}
		if i-lastZero <= r {
			dst[i] = 0
		} else {
			dst[i] = 1
		}
	}
	nextZero := 1 << 30
	for i := n - 1; i >= 0; i-- {
		if src[i] == 0 {
			nextZero = i
		}
		if nextZero-i <= r {
			dst[i] = 0
		}
	}
}
