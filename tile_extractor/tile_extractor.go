package tile_extractor

import (
	"context"
	"image"
	"sync"

	"slidecut/contracts"
)

type Tile = contracts.Tile
type GridSpec = contracts.GridSpec
type Coverage = contracts.Coverage

// Tissue thresholds, tuned on H&E-stained material: a tile is worth keeping
// when most of its pixels are opaque and it is not blue-dominant the way
// blank glass and scanner background are.
const (
	minOpaqueRatio  = 0.5
	maxBlueRedRatio = 0.99
)

// TileResult is one extracted (or failed) tile. Img is nil when Err is set.
type TileResult struct {
	Tile     Tile
	Img      *image.NRGBA
	Coverage Coverage
	Err      error
}

type Options struct {
	// Workers caps concurrent region reads. Forced to 1 when the slide
	// handle does not allow concurrent reads.
	Workers int
}

// Extract reads every tile of the grid through a bounded worker pool and
// streams results as they complete. The channel closes after all tiles have
// been attempted or the context is canceled; a failed tile is reported on
// the channel, never dropped.
func Extract(ctx context.Context, slide contracts.Slide, grid *GridSpec, opts Options) <-chan TileResult {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if !slide.Concurrent() {
		workers = 1
	}
	if n := grid.TileCount(); workers > n && n > 0 {
		workers = n
	}

	jobs := make(chan Tile)
	out := make(chan TileResult)

	go func() {
		defer close(jobs)
		for _, tile := range grid.Tiles {
			select {
			case jobs <- tile:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range jobs {
				out <- readTile(ctx, slide, grid.Level, tile)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func readTile(ctx context.Context, slide contracts.Slide, level int, tile Tile) TileResult {
	r := contracts.Region{X: tile.X, Y: tile.Y, W: tile.W, H: tile.H}
	img, err := slide.ReadRegion(ctx, r, level)
	if err != nil {
		if !contracts.IsRegionRead(err) {
			err = contracts.NewRegionRead(err, level, r)
		}
		tile.Status = contracts.TileFailed
		return TileResult{Tile: tile, Err: err}
	}
	tile.Status = contracts.TileExtracted
	return TileResult{Tile: tile, Img: img, Coverage: MeasureCoverage(img)}
}

// MeasureCoverage scores how much of a tile looks like tissue. Stained
// material is opaque and red-dominant; blank glass reads as transparent or
// as washed-out blue-gray, which the blue/red ratio picks up.
func MeasureCoverage(img *image.NRGBA) Coverage {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return Coverage{}
	}

	var opaque, redSum, blueSum int64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4:]
			redSum += int64(p[0])
			blueSum += int64(p[2])
			if p[3] == 255 {
				opaque++
			}
		}
	}

	cov := Coverage{
		OpaqueRatio:  float64(opaque) / float64(total),
		BlueRedRatio: float64(blueSum) / (float64(redSum) + 1),
	}
	cov.Tissue = cov.OpaqueRatio > minOpaqueRatio && cov.BlueRedRatio <= maxBlueRedRatio
	return cov
}
