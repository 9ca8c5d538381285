package export_writer

import (
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	xtiff "golang.org/x/image/tiff"

	"slidecut/contracts"
)

const (
	FormatPNG  = "png"
	FormatTIFF = "tiff"
	FormatJPEG = "jpeg"
)

const ManifestName = "failures.manifest"
const SidecarName = "grid.json"

func ValidFormat(f string) bool {
	return f == FormatPNG || f == FormatTIFF || f == FormatJPEG
}

func formatExt(format string) string {
	if format == FormatJPEG {
		return "jpg"
	}
	return format
}

// Writer owns one slide's output directory and the encoding of everything
// that lands in it. All writes go through a temp file and a rename, so a
// crash never leaves a half-encoded tile under a final name.
type Writer struct {
	dir     string
	format  string
	quality int
}

// NewWriter creates the slide's directory under
// <outputRoot>/<relFolder>/<slideName> and returns a writer bound to it.
func NewWriter(outputRoot, relFolder, slideName, format string, quality int) (*Writer, error) {
	if !ValidFormat(format) {
		return nil, errors.Newf("unknown export format %q", format)
	}
	dir := filepath.Join(outputRoot, relFolder, slideName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, contracts.NewWrite(err, dir)
	}
	return &Writer{dir: dir, format: format, quality: quality}, nil
}

func (w *Writer) Dir() string { return w.dir }

func (w *Writer) TileFile(row, col int) string {
	return filepath.Join(w.dir, fmt.Sprintf("tile_%d_%d.%s", row, col, formatExt(w.format)))
}

func (w *Writer) MapFile() string {
	return filepath.Join(w.dir, "map."+formatExt(w.format))
}

func (w *Writer) WriteTile(row, col int, img *image.NRGBA) (string, error) {
	path := w.TileFile(row, col)
	return path, w.writeImage(path, img)
}

func (w *Writer) WriteMap(img *image.NRGBA) (string, error) {
	path := w.MapFile()
	return path, w.writeImage(path, img)
}

func (w *Writer) writeImage(path string, img *image.NRGBA) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return contracts.NewWrite(err, path)
	}
	err = w.encode(f, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return contracts.NewWrite(err, path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return contracts.NewWrite(err, path)
	}
	return nil
}

func (w *Writer) encode(out io.Writer, img *image.NRGBA) error {
	switch w.format {
	case FormatTIFF:
		return xtiff.Encode(out, img, &xtiff.Options{Compression: xtiff.Deflate, Predictor: true})
	case FormatJPEG:
		return jpeg.Encode(out, flattenWhite(img), &jpeg.Options{Quality: w.quality})
	default:
		// Tile dumps are write-bound; recompressing pixels that were just
		// decompressed is where slicing runs lose most of their time.
		enc := png.Encoder{CompressionLevel: png.NoCompression}
		return enc.Encode(out, img)
	}
}

// flattenWhite composites partial transparency over a white background,
// matching what the tiles look like on a light-box. JPEG has no alpha.
func flattenWhite(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		si := img.PixOffset(b.Min.X, b.Min.Y+y)
		di := out.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			s := img.Pix[si+x*4 : si+x*4+4]
			d := out.Pix[di+x*4 : di+x*4+4]
			a := uint32(s[3])
			if a == 255 {
				copy(d, s)
				continue
			}
			for i := 0; i < 3; i++ {
				d[i] = uint8((uint32(s[i])*a + 255*(255-a) + 127) / 255)
			}
			d[3] = 255
		}
	}
	return out
}

// WriteManifest records the grid positions of failed tiles, one "row,col"
// line per tile in row-major order. With nothing failed the manifest is
// removed, so a clean re-run leaves no stale file behind.
func (w *Writer) WriteManifest(failed []contracts.Tile) (string, error) {
	path := filepath.Join(w.dir, ManifestName)
	if len(failed) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return "", contracts.NewWrite(err, path)
		}
		return "", nil
	}

	sorted := make([]contracts.Tile, len(failed))
	copy(sorted, failed)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})

	var buf []byte
	for _, t := range sorted {
		buf = append(buf, fmt.Sprintf("%d,%d\n", t.Row, t.Col)...)
	}
	return path, w.writeBytes(path, buf)
}

type sidecarCoverage struct {
	OpaqueRatio  float64 `json:"opaqueRatio"`
	BlueRedRatio float64 `json:"blueRedRatio"`
	Tissue       bool    `json:"tissue"`
}

type sidecarTile struct {
	Row      int              `json:"row"`
	Col      int              `json:"col"`
	X        int              `json:"x"`
	Y        int              `json:"y"`
	W        int              `json:"w"`
	H        int              `json:"h"`
	Status   string           `json:"status"`
	Coverage *sidecarCoverage `json:"coverage,omitempty"`
}

type sidecarDoc struct {
	Level       int           `json:"level"`
	Downsample  float64       `json:"downsample"`
	LevelWidth  int           `json:"levelWidth"`
	LevelHeight int           `json:"levelHeight"`
	TileSize    int           `json:"tileSize"`
	Overlap     int           `json:"overlap"`
	Rows        int           `json:"rows"`
	Cols        int           `json:"cols"`
	Tiles       []sidecarTile `json:"tiles"`
}

// WriteGridSidecar stores the grid geometry and per-tile outcomes as
// grid.json. The document is a pure function of the slide and the settings:
// no timestamps, keys and tiles in fixed order, so re-runs are
// byte-identical. Coverage appears only on cleanly extracted tiles.
func (w *Writer) WriteGridSidecar(grid *contracts.GridSpec, downsample float64, reports []contracts.TileReport) (string, error) {
	coverage := make(map[[2]int]contracts.Coverage, len(reports))
	for _, rep := range reports {
		if rep.Err == nil {
			coverage[[2]int{rep.Tile.Row, rep.Tile.Col}] = rep.Coverage
		}
	}

	doc := sidecarDoc{
		Level:       grid.Level,
		Downsample:  downsample,
		LevelWidth:  grid.Width,
		LevelHeight: grid.Height,
		TileSize:    grid.TileSize,
		Overlap:     grid.Overlap,
		Rows:        grid.Rows,
		Cols:        grid.Cols,
		Tiles:       make([]sidecarTile, 0, len(grid.Tiles)),
	}
	for _, t := range grid.Tiles {
		st := sidecarTile{
			Row: t.Row, Col: t.Col,
			X: t.X, Y: t.Y, W: t.W, H: t.H,
			Status: t.Status.String(),
		}
		if cov, ok := coverage[[2]int{t.Row, t.Col}]; ok {
			st.Coverage = &sidecarCoverage{
				OpaqueRatio:  cov.OpaqueRatio,
				BlueRedRatio: cov.BlueRedRatio,
				Tissue:       cov.Tissue,
			}
		}
		doc.Tiles = append(doc.Tiles, st)
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode grid sidecar")
	}
	buf = append(buf, '\n')

	path := filepath.Join(w.dir, SidecarName)
	return path, w.writeBytes(path, buf)
}

func (w *Writer) writeBytes(path string, buf []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return contracts.NewWrite(err, path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return contracts.NewWrite(err, path)
	}
	return nil
}
