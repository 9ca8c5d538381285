//go:build vips

package slide_source

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/davidbyttow/govips/v2/vips"

	"slidecut/contracts"
)

// The vips adapter covers the proprietary vendor containers (OpenSlide
// formats) and BigTIFF. libvips exposes pyramid levels as pages; a fresh
// page load per region keeps the handle stateless on our side, but libvips
// operations on one source are not reentrant, so Concurrent reports false
// and tile reads for a slide are serialized while slide-level parallelism
// stays.

var vipsOnce sync.Once

var vipsExts = map[string]bool{
	".mrxs": true,
	".svs":  true,
	".ndpi": true,
	".scn":  true,
	".vms":  true,
	".vmu":  true,
	".bif":  true,
}

func init() {
	Register("vips", matchVips, openVipsSlide)
}

func matchVips(path string, header []byte) bool {
	if vipsExts[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	// BigTIFF magic; the pure-Go reader handles only classic TIFF
	if len(header) >= 4 {
		le := header[0] == 'I' && header[1] == 'I' && header[2] == 43 && header[3] == 0
		be := header[0] == 'M' && header[1] == 'M' && header[2] == 0 && header[3] == 43
		return le || be
	}
	return false
}

func startVips() {
	vipsOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelError)
		vips.Startup(nil)
	})
}

type vipsSlide struct {
	mu   sync.Mutex
	path string
	info contracts.SlideInfo
}

func openVipsSlide(path string) (Slide, error) {
	startVips()

	ref, err := vips.LoadImageFromFile(path, vips.NewImportParams())
	if err != nil {
		return nil, contracts.NewUnreadableSlide(path, err)
	}
	pages := ref.Pages()
	w0, h0 := ref.Width(), ref.Height()
	ref.Close()
	if w0 < 1 || h0 < 1 {
		return nil, contracts.NewUnreadableSlide(path, errors.New("empty base plane"))
	}

	levels := []contracts.Level{{Width: w0, Height: h0, Downsample: 1}}
	prevW := w0
	for p := 1; p < pages; p++ {
		params := vips.NewImportParams()
		params.Page.Set(p)
		lp, err := vips.LoadImageFromFile(path, params)
		if err != nil {
			break
		}
		lw, lh := lp.Width(), lp.Height()
		lp.Close()
		if lw < 1 || lh < 1 || lw >= prevW {
			// associated images (label, macro) trail the pyramid
			break
		}
		levels = append(levels, contracts.Level{
			Width:      lw,
			Height:     lh,
			Downsample: float64(w0) / float64(lw),
		})
		prevW = lw
	}

	return &vipsSlide{
		path: path,
		info: contracts.SlideInfo{
			Path:   path,
			Name:   slideName(path),
			Format: "vips",
			Width:  w0,
			Height: h0,
			Levels: levels,
		},
	}, nil
}

func (s *vipsSlide) Info() contracts.SlideInfo { return s.info }

func (s *vipsSlide) Concurrent() bool { return false }

func (s *vipsSlide) Close() error { return nil }

func (s *vipsSlide) ReadRegion(ctx context.Context, r contracts.Region, level int) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, contracts.NewRegionRead(err, level, r)
	}
	if level < 0 || level >= len(s.info.Levels) {
		return nil, contracts.NewRegionRead(errors.Newf("level %d of %d", level, len(s.info.Levels)), level, r)
	}
	lv := s.info.Levels[level]
	if r.W < 1 || r.H < 1 || r.X < 0 || r.Y < 0 || r.X+r.W > lv.Width || r.Y+r.H > lv.Height {
		return nil, contracts.NewRegionRead(
			errors.Newf("region outside the %dx%d plane", lv.Width, lv.Height), level, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	params := vips.NewImportParams()
	params.Page.Set(level)
	ref, err := vips.LoadImageFromFile(s.path, params)
	if err != nil {
		return nil, contracts.NewRegionRead(err, level, r)
	}
	defer ref.Close()

	if err := ref.ExtractArea(r.X, r.Y, r.W, r.H); err != nil {
		return nil, contracts.NewRegionRead(err, level, r)
	}

	buf, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, contracts.NewRegionRead(err, level, r)
	}
	decoded, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, contracts.NewRegionRead(err, level, r)
	}

	out := image.NewNRGBA(image.Rect(0, 0, r.W, r.H))
	draw.Draw(out, out.Bounds(), decoded, decoded.Bounds().Min, draw.Src)
	return out, nil
}
