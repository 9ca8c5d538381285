package contracts

import (
	"context"
	"image"
)

// Level is one plane of a slide's resolution pyramid. Level 0 is the
// highest-resolution plane the container exposes; Downsample is relative
// to the slide's declared full resolution.
type Level struct {
	Width      int
	Height     int
	Downsample float64
}

type SlideInfo struct {
	Path   string
	Name   string
	Format string
	Width  int
	Height int
	// MPP is microns per pixel on the base plane, 0 when the container
	// does not report a physical resolution.
	MPP    float64
	Levels []Level
}

// Region is a pixel rectangle in the coordinate space of one pyramid level.
type Region struct {
	X int
	Y int
	W int
	H int
}

type Slide interface {
	Info() SlideInfo
	// ReadRegion decodes the region at the given pyramid level. Regions
	// outside the level bounds fail with ErrRegionRead, as do reads that
	// hit missing or corrupt data inside the container.
	ReadRegion(ctx context.Context, r Region, level int) (*image.NRGBA, error)
	// Concurrent reports whether ReadRegion may be called from multiple
	// goroutines on the same handle.
	Concurrent() bool
	Close() error
}
