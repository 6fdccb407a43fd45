package pqa

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/datacube/core/ndarray"
)

const allClear = 32767

// naiveErode iterates a 3×3 erosion radius times with border value 1.
func naiveErode(in []uint8, h, w, radius int) []uint8 {
	cur := append([]uint8(nil), in...)
	for k := 0; k < radius; k++ {
		next := make([]uint8, len(cur))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := uint8(1)
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						yy, xx := y+dy, x+dx
						if yy < 0 || yy >= h || xx < 0 || xx >= w {
							continue
						}
						if cur[yy*w+xx] == 0 {
							v = 0
						}
					}
				}
				next[y*w+x] = v
			}
		}
		cur = next
	}
	return cur
}

func randomPlane(rng *rand.Rand, n int) []int64 {
	codes := make([]int64, n)
	for i := range codes {
		codes[i] = allClear
		switch rng.Intn(24) {
		case 0:
			codes[i] &^= 1 << CloudACCABit
		case 1:
			codes[i] &^= 0xF << CloudACCABit
		}
	}
	return codes
}

func TestErodeMatchesIteratedErosion(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, size := range [][2]int{{1, 1}, {3, 5}, {8, 8}, {13, 6}} {
		h, w := size[0], size[1]
		for radius := 0; radius <= 4; radius++ {
			in := make([]uint8, h*w)
			for i := range in {
				if rng.Intn(5) > 0 {
					in[i] = 1
				}
			}
			want := naiveErode(in, h, w, radius)
			got := erode(in, h, w, radius)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%dx%d radius %d mismatch (-want +got):\n%s", h, w, radius, diff)
			}
		}
	}
}

func TestMaskAllClear(t *testing.T) {
	q, err := ndarray.Full([]string{"y", "x"}, []int{4, 4}, allClear, ndarray.Int64)
	require.NoError(t, err)

	m, err := Mask(q, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, ndarray.Bool, m.DType())
	assert.Equal(t, []string{"y", "x"}, m.Dims())
	assert.Equal(t, 16, m.CountTrue())
}

func TestMaskIgnoresBit6(t *testing.T) {
	q, err := ndarray.FromInts([]string{"y", "x"}, []int{1, 2}, []int64{allClear &^ SaturationBit6, 16383})
	require.NoError(t, err)

	m, err := Mask(q, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, m.Bools())
}

func TestMaskRejectsNeighbourhood(t *testing.T) {
	const n = 15
	codes := make([]int64, n*n)
	for i := range codes {
		codes[i] = allClear
	}
	codes[7*n+7] = allClear &^ (1 << CloudACCABit)
	q, err := ndarray.FromInts([]string{"y", "x"}, []int{n, n}, codes)
	require.NoError(t, err)

	m, err := Mask(q, Policy{GoodValues: []int64{allClear}, Dilation: 1})
	require.NoError(t, err)
	valid := m.Bools()

	for y := 6; y <= 8; y++ {
		for x := 6; x <= 8; x++ {
			assert.False(t, valid[y*n+x], "pixel (%d,%d) next to the cloud", y, x)
		}
	}
	assert.True(t, valid[0])
	assert.True(t, valid[n*n-1])
}

func TestMaskZeroDilationKeepsFlags(t *testing.T) {
	codes := []int64{allClear, allClear &^ (1 << ShadowFmaskBit), allClear, allClear}
	q, err := ndarray.FromInts(nil, []int{2, 2}, codes)
	require.NoError(t, err)

	m, err := Mask(q, Policy{GoodValues: []int64{allClear}, Dilation: 0})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, true}, m.Bools())
}

func TestMaskObservationsIndependent(t *testing.T) {
	cloudy := int64(allClear &^ (1 << CloudFmaskBit))
	codes := []int64{
		allClear, allClear, allClear, allClear,
		cloudy, allClear, allClear, allClear,
	}
	q, err := ndarray.FromInts([]string{"time", "y", "x"}, []int{2, 2, 2}, codes)
	require.NoError(t, err)

	m, err := Mask(q, Policy{GoodValues: []int64{allClear}, Dilation: 1})
	require.NoError(t, err)
	got := m.Bools()
	assert.Equal(t, []bool{true, true, true, true}, got[:4])
	assert.Equal(t, []bool{false, false, false, false}, got[4:])
}

func TestMaskDilationMonotone(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		codes := randomPlane(rng, 20*20)
		q, err := ndarray.FromInts([]string{"y", "x"}, []int{20, 20}, codes)
		require.NoError(t, err)

		prev := 20*20 + 1
		for d := 0; d <= 5; d++ {
			m, err := Mask(q, Policy{GoodValues: []int64{allClear}, Dilation: d})
			require.NoError(t, err)
			count := m.CountTrue()
			assert.LessOrEqual(t, count, prev, "trial %d dilation %d", trial, d)
			prev = count
		}
	}
}

func TestMaskErrors(t *testing.T) {
	q1, err := ndarray.FromInts([]string{"x"}, []int{3}, []int64{1, 2, 3})
	require.NoError(t, err)
	_, err = Mask(q1, DefaultPolicy())
	var se *ndarray.ShapeError
	assert.ErrorAs(t, err, &se)

	q2, err := ndarray.Full(nil, []int{2, 2}, allClear, ndarray.Int64)
	require.NoError(t, err)
	_, err = Mask(q2, Policy{GoodValues: []int64{allClear}, Dilation: -1})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	_, err = Mask(q2, Policy{Dilation: 1})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestDilateDoesNotModifyInput(t *testing.T) {
	in := []int64{allClear, allClear &^ (1 << CloudACCABit)}
	orig := append([]int64(nil), in...)
	Dilate(in, 1, 2, 1)
	assert.Equal(t, orig, in)
}
