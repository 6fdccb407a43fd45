package gdf

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/opal-lang/datacube/runtime/reproject"
)

// TileIndex addresses a tile of a regular grid, row first.
type TileIndex struct {
	Y, X int
}

// GridDatasets assigns each footprint to every tile it touches. tileSize is
// (y, x). The values are indexes into bounds, ascending.
func GridDatasets(bounds []orb.Bound, tileSize [2]float64) map[TileIndex][]int {
	tiles := map[TileIndex][]int{}
	for i, b := range bounds {
		y0 := int(math.Floor(b.Min.Y() / tileSize[0]))
		y1 := int(math.Floor(b.Max.Y() / tileSize[0]))
		x0 := int(math.Floor(b.Min.X() / tileSize[1]))
		x1 := int(math.Floor(b.Max.X() / tileSize[1]))
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				idx := TileIndex{Y: y, X: x}
				tiles[idx] = append(tiles[idx], i)
			}
		}
	}
	return tiles
}

// SortedTiles returns the keys of a tile map in row-major order.
func SortedTiles(tiles map[TileIndex][]int) []TileIndex {
	out := make([]TileIndex, 0, len(tiles))
	for k := range tiles {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// TileTransform returns the pixel-to-CRS transform of a tile. tileSize and
// tileRes are (y, x); a negative resolution anchors that axis at the far
// edge of the tile.
func TileTransform(idx TileIndex, tileSize, tileRes [2]float64) reproject.Affine {
	x := float64(idx.X) * tileSize[1]
	if tileRes[1] < 0 {
		x = float64(idx.X+1) * tileSize[1]
	}
	y := float64(idx.Y) * tileSize[0]
	if tileRes[0] < 0 {
		y = float64(idx.Y+1) * tileSize[0]
	}
	return reproject.Affine{A: tileRes[1], C: x, E: tileRes[0], F: y}
}

// TileGrid is the raster grid of a tile.
func TileGrid(idx TileIndex, tileSize, tileRes [2]float64, crs string) reproject.Grid {
	return reproject.Grid{
		Transform: TileTransform(idx, tileSize, tileRes),
		Width:     int(tileSize[1] / math.Abs(tileRes[1])),
		Height:    int(tileSize[0] / math.Abs(tileRes[0])),
		CRS:       crs,
	}
}
