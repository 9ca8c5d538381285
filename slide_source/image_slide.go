package slide_source

import (
	"context"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"slidecut/contracts"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// imageSlide serves flat raster files (png, jpeg, bmp) as single-level
// slides. The whole image is decoded at open time and regions are copied
// out of memory, which keeps ordinary test and calibration images usable
// by the same pipeline that handles pyramids.
type imageSlide struct {
	info contracts.SlideInfo
	pix  *image.NRGBA
}

var flatImageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
}

func init() {
	Register("image", matchFlatImage, openImageSlide)
}

func matchFlatImage(path string, header []byte) bool {
	return flatImageExts[strings.ToLower(filepath.Ext(path))]
}

func openImageSlide(path string) (Slide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, contracts.NewUnreadableSlide(path, err)
	}
	defer f.Close()

	decoded, format, err := image.Decode(f)
	if err != nil {
		return nil, contracts.NewUnreadableSlide(path, err)
	}

	b := decoded.Bounds()
	pix := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(pix, pix.Bounds(), decoded, b.Min, draw.Src)

	return &imageSlide{
		info: contracts.SlideInfo{
			Path:   path,
			Name:   slideName(path),
			Format: format,
			Width:  b.Dx(),
			Height: b.Dy(),
			Levels: []contracts.Level{{Width: b.Dx(), Height: b.Dy(), Downsample: 1}},
		},
		pix: pix,
	}, nil
}

func (s *imageSlide) Info() contracts.SlideInfo { return s.info }

func (s *imageSlide) Concurrent() bool { return true }

func (s *imageSlide) Close() error { return nil }

func (s *imageSlide) ReadRegion(ctx context.Context, r contracts.Region, level int) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, contracts.NewRegionRead(err, level, r)
	}
	if level != 0 {
		return nil, contracts.NewRegionRead(errors.Newf("level %d of 1", level), level, r)
	}
	if r.W < 1 || r.H < 1 || r.X < 0 || r.Y < 0 || r.X+r.W > s.info.Width || r.Y+r.H > s.info.Height {
		return nil, contracts.NewRegionRead(
			errors.Newf("region outside the %dx%d plane", s.info.Width, s.info.Height), level, r)
	}

	out := image.NewNRGBA(image.Rect(0, 0, r.W, r.H))
	rowLen := r.W * 4
	for y := 0; y < r.H; y++ {
		si := s.pix.PixOffset(r.X, r.Y+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+rowLen], s.pix.Pix[si:si+rowLen])
	}
	return out, nil
}
