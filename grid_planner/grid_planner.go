// Package grid_planner computes the deterministic tile grid for one slide
// plane. Planning is pure integer arithmetic: identical inputs always
// produce identical tile boundaries and indices, so individual tiles can
// be regenerated without recomputing the whole grid.
package grid_planner

import (
	"image"

	"github.com/cockroachdb/errors"

	"slidecut/contracts"
)

type GridSpec = contracts.GridSpec
type Tile = contracts.Tile

// Plan partitions [0,width) x [0,height) into tiles of edge tileSize with
// adjacent tiles sharing an overlap-wide band. Tiles in the last row and
// column are clipped to the plane boundary, never padded.
func Plan(width, height, tileSize, overlap int) (*GridSpec, error) {
	if width < 1 || height < 1 {
		return nil, errors.Newf("plane %dx%d is empty", width, height)
	}
	if tileSize < 1 {
		return nil, errors.Newf("tile size must be positive, got %d", tileSize)
	}
	if overlap < 0 || overlap >= tileSize {
		return nil, errors.Newf("overlap %d outside [0, %d)", overlap, tileSize)
	}

	stride := tileSize - overlap
	cols := ceilDiv(width, stride)
	rows := ceilDiv(height, stride)

	tiles := make([]Tile, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x := c * stride
			y := r * stride
			tiles = append(tiles, Tile{
				Row:    r,
				Col:    c,
				X:      x,
				Y:      y,
				W:      min(tileSize, width-x),
				H:      min(tileSize, height-y),
				Status: contracts.TilePending,
			})
		}
	}

	return &GridSpec{
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		Overlap:  overlap,
		Rows:     rows,
		Cols:     cols,
		Tiles:    tiles,
	}, nil
}

// CoreBounds is the tile rectangle minus its leading overlap bands: the
// left band for every column after the first and the top band for every
// row after the first. Cores partition the plane exactly, which is what
// the map composer assembles. A boundary sliver narrower than the overlap
// yields an empty rectangle.
func CoreBounds(g *GridSpec, t Tile) image.Rectangle {
	x0, y0 := t.X, t.Y
	if t.Col > 0 {
		x0 += g.Overlap
	}
	if t.Row > 0 {
		y0 += g.Overlap
	}
	x1 := t.X + t.W
	y1 := t.Y + t.H
	if x0 >= x1 || y0 >= y1 {
		return image.Rectangle{}
	}
	return image.Rect(x0, y0, x1, y1)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
