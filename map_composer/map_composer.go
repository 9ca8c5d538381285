package map_composer

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"

	"slidecut/contracts"
	"slidecut/grid_planner"
)

// Map palette: a neutral background where nothing was composited, and a
// striped hazard pattern for tiles that failed to extract.
var (
	backgroundColor = color.NRGBA{R: 0x2E, G: 0x2E, B: 0x2E, A: 0xFF}
	failStripeLight = color.NRGBA{R: 0xC0, G: 0x3A, B: 0x3A, A: 0xFF}
	failStripeDark  = color.NRGBA{R: 0x51, G: 0x16, B: 0x16, A: 0xFF}
)

// Composer assembles the slide overview map: one fixed-size cell per grid
// position, fed by the overlap-trimmed core of each extracted tile. Safe
// for one goroutine; the pipeline composites from its collection loop.
type Composer struct {
	grid   *contracts.GridSpec
	cellW  int
	cellH  int
	canvas *image.NRGBA
}

func New(grid *contracts.GridSpec, cellW, cellH int) *Composer {
	return &Composer{
		grid:   grid,
		cellW:  cellW,
		cellH:  cellH,
		canvas: imaging.New(grid.Cols*cellW, grid.Rows*cellH, backgroundColor),
	}
}

func (c *Composer) cellRect(t contracts.Tile) image.Rectangle {
	x0 := t.Col * c.cellW
	y0 := t.Row * c.cellH
	return image.Rect(x0, y0, x0+c.cellW, y0+c.cellH)
}

// AddTile composites one extracted tile. The image is cropped to the
// tile's core, so pixels shared with the row above or the column to the
// left appear in the map exactly once, then scaled by the uniform factor
// cell/stride and pasted at the tile's cell. Clipped boundary tiles fill
// their cell only partially, keeping the map's geometry true; whatever
// would spill past the cell (a leading column or row is one overlap band
// wider than the stride) is cropped at the cell edge. Tiles whose core is
// empty leave their cell on the background.
func (c *Composer) AddTile(t contracts.Tile, img *image.NRGBA) {
	core := grid_planner.CoreBounds(c.grid, t)
	if core.Empty() {
		return
	}
	stride := c.grid.TileSize - c.grid.Overlap
	sw := scaledSpan(core.Dx(), c.cellW, stride)
	sh := scaledSpan(core.Dy(), c.cellH, stride)

	cropped := imaging.Crop(img, core.Sub(image.Pt(t.X, t.Y)))
	scaled := imaging.Resize(cropped, sw, sh, imaging.Box)

	cell := c.cellRect(t)
	target := image.Rect(cell.Min.X, cell.Min.Y,
		min(cell.Min.X+sw, cell.Max.X), min(cell.Min.Y+sh, cell.Max.Y))
	draw.Draw(c.canvas, target, scaled, image.Point{}, draw.Src)
}

func scaledSpan(span, cellSpan, stride int) int {
	s := int(math.Round(float64(span) * float64(cellSpan) / float64(stride)))
	if s < 1 {
		return 1
	}
	return s
}

// MarkFailed paints the tile's cell with the hazard pattern.
func (c *Composer) MarkFailed(t contracts.Tile) {
	r := c.cellRect(t)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dx, dy := x-r.Min.X, y-r.Min.Y
			if ((dx+dy)/4)%2 == 0 {
				c.canvas.SetNRGBA(x, y, failStripeLight)
			} else {
				c.canvas.SetNRGBA(x, y, failStripeDark)
			}
		}
	}
}

// Image returns the assembled map.
func (c *Composer) Image() *image.NRGBA { return c.canvas }
