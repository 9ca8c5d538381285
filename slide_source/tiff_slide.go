package slide_source

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	gtiff "github.com/google/tiff"
	"golang.org/x/image/tiff/lzw"

	"slidecut/contracts"
)

// TIFF tags the pyramid reader cares about.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagXResolution     = 282
	tagYResolution     = 283
	tagPlanarConfig    = 284
	tagResolutionUnit  = 296
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagJPEGTables      = 347
)

const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionJPEG       = 7
	compressionDeflate    = 8
	compressionDeflateOld = 32946
)

const (
	photometricWhiteIsZero = 0
	photometricBlackIsZero = 1
	photometricRGB         = 2
	photometricYCbCr       = 6
)

// tiffLevel is one image IFD of the pyramid. Chunks are tiles for tiled
// IFDs and strips otherwise; strip chunks span the full level width.
type tiffLevel struct {
	width       int
	height      int
	samples     int
	compression int
	photometric int
	predictor   int
	tiled       bool
	chunkW      int
	chunkH      int
	chunksX     int
	chunksY     int
	offsets     []int64
	counts      []int64
	jpegTables  []byte
	downsample  float64
	mpp         float64
}

type tiffSlide struct {
	f      *os.File
	info   contracts.SlideInfo
	levels []tiffLevel
}

func init() {
	Register("tiff", matchTIFF, openTIFFSlide)
}

// matchTIFF claims classic TIFF files by extension and magic. BigTIFF
// (version 43) and the OpenSlide vendor containers are left for the vips
// adapter.
func matchTIFF(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".tif" && ext != ".tiff" {
		return false
	}
	if len(header) < 4 {
		return false
	}
	le := header[0] == 'I' && header[1] == 'I' && header[2] == 42 && header[3] == 0
	be := header[0] == 'M' && header[1] == 'M' && header[2] == 0 && header[3] == 42
	return le || be
}

func openTIFFSlide(path string) (Slide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, contracts.NewUnreadableSlide(path, err)
	}

	var hdr [4]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, contracts.NewUnreadableSlide(path, err)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if hdr[0] == 'M' {
		order = binary.BigEndian
	}

	t, err := gtiff.Parse(f, nil, nil)
	if err != nil {
		f.Close()
		return nil, contracts.NewUnreadableSlide(path, err)
	}

	var levels []tiffLevel
	for _, ifd := range t.IFDs() {
		lv, err := readTIFFLevel(ifd, order)
		if err != nil {
			// reduced-resolution thumbnails or metadata IFDs the reader
			// does not understand are not part of the pyramid
			continue
		}
		levels = append(levels, lv)
	}
	if len(levels) == 0 {
		f.Close()
		return nil, contracts.NewUnreadableSlide(path, errors.New("no decodable image planes"))
	}

	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].width*levels[i].height > levels[j].width*levels[j].height
	})
	base := &levels[0]
	for i := range levels {
		levels[i].downsample = float64(base.width) / float64(levels[i].width)
	}

	info := contracts.SlideInfo{
		Path:   path,
		Name:   slideName(path),
		Format: "tiff",
		Width:  base.width,
		Height: base.height,
		MPP:    base.mpp,
	}
	for _, lv := range levels {
		info.Levels = append(info.Levels, contracts.Level{
			Width:      lv.width,
			Height:     lv.height,
			Downsample: lv.downsample,
		})
	}

	return &tiffSlide{f: f, info: info, levels: levels}, nil
}

func readTIFFLevel(ifd gtiff.IFD, order binary.ByteOrder) (tiffLevel, error) {
	lv := tiffLevel{
		samples:     int(fieldInt(ifd, tagSamplesPerPixel, order, 1)),
		compression: int(fieldInt(ifd, tagCompression, order, compressionNone)),
		photometric: int(fieldInt(ifd, tagPhotometric, order, photometricBlackIsZero)),
		predictor:   int(fieldInt(ifd, tagPredictor, order, 1)),
	}
	lv.width = int(fieldInt(ifd, tagImageWidth, order, 0))
	lv.height = int(fieldInt(ifd, tagImageLength, order, 0))
	if lv.width < 1 || lv.height < 1 {
		return lv, errors.New("not an image IFD")
	}

	if bits, ok := fieldInts(ifd, tagBitsPerSample, order); ok {
		for _, b := range bits {
			if b != 8 {
				return lv, errors.Newf("unsupported bit depth %d", b)
			}
		}
	}
	if lv.samples != 1 && lv.samples != 3 && lv.samples != 4 {
		return lv, errors.Newf("unsupported samples per pixel %d", lv.samples)
	}
	if pc := fieldInt(ifd, tagPlanarConfig, order, 1); pc != 1 {
		return lv, errors.Newf("unsupported planar configuration %d", pc)
	}
	switch lv.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld, compressionJPEG:
	default:
		return lv, errors.Newf("unsupported compression %d", lv.compression)
	}
	switch lv.photometric {
	case photometricWhiteIsZero, photometricBlackIsZero, photometricRGB:
	case photometricYCbCr:
		if lv.compression != compressionJPEG {
			return lv, errors.Newf("YCbCr requires JPEG-compressed chunks")
		}
	default:
		return lv, errors.Newf("unsupported photometric interpretation %d", lv.photometric)
	}
	if lv.predictor != 1 && lv.predictor != 2 {
		return lv, errors.Newf("unsupported predictor %d", lv.predictor)
	}

	if ifd.HasField(tagTileOffsets) {
		lv.tiled = true
		lv.chunkW = int(fieldInt(ifd, tagTileWidth, order, 0))
		lv.chunkH = int(fieldInt(ifd, tagTileLength, order, 0))
		if lv.chunkW < 1 || lv.chunkH < 1 {
			return lv, errors.New("tiled IFD without tile dimensions")
		}
	} else if ifd.HasField(tagStripOffsets) {
		lv.chunkW = lv.width
		rps := int(fieldInt(ifd, tagRowsPerStrip, order, int64(lv.height)))
		if rps < 1 || rps > lv.height {
			rps = lv.height
		}
		lv.chunkH = rps
	} else {
		return lv, errors.New("IFD has neither tile nor strip offsets")
	}

	lv.chunksX = (lv.width + lv.chunkW - 1) / lv.chunkW
	lv.chunksY = (lv.height + lv.chunkH - 1) / lv.chunkH

	offTag, cntTag := tagTileOffsets, tagTileByteCounts
	if !lv.tiled {
		offTag, cntTag = tagStripOffsets, tagStripByteCounts
	}
	offsets, ok := fieldInts(ifd, offTag, order)
	if !ok {
		return lv, errors.New("missing chunk offsets")
	}
	counts, ok := fieldInts(ifd, cntTag, order)
	if !ok {
		return lv, errors.New("missing chunk byte counts")
	}
	want := lv.chunksX * lv.chunksY
	if len(offsets) != want || len(counts) != want {
		return lv, errors.Newf("chunk table has %d/%d entries, want %d", len(offsets), len(counts), want)
	}
	lv.offsets = offsets
	lv.counts = counts

	if lv.compression == compressionJPEG && ifd.HasField(tagJPEGTables) {
		if fld := ifd.GetField(tagJPEGTables); fld != nil {
			tb := fld.Value().Bytes()
			if len(tb) > 4 {
				lv.jpegTables = tb
			}
		}
	}

	if xres, ok := fieldRational(ifd, tagXResolution, order); ok && xres > 0 {
		switch fieldInt(ifd, tagResolutionUnit, order, 2) {
		case 2:
			lv.mpp = 25400 / xres
		case 3:
			// pixels per centimeter
			lv.mpp = 25400 / (xres * 2.54)
		}
	}
	return lv, nil
}

// fieldInts decodes an integer-valued TIFF field into int64s. The element
// width is inferred from the payload size, which sidesteps the BYTE /
// SHORT / LONG type split.
func fieldInts(ifd gtiff.IFD, tag uint16, order binary.ByteOrder) ([]int64, bool) {
	if !ifd.HasField(tag) {
		return nil, false
	}
	fld := ifd.GetField(tag)
	if fld == nil {
		return nil, false
	}
	count := int(fld.Count())
	if count < 1 {
		return nil, false
	}
	b := fld.Value().Bytes()
	if len(b) < count {
		return nil, false
	}
	size := len(b) / count
	out := make([]int64, count)
	for i := 0; i < count; i++ {
		switch size {
		case 1:
			out[i] = int64(b[i])
		case 2:
			out[i] = int64(order.Uint16(b[2*i:]))
		case 4:
			out[i] = int64(order.Uint32(b[4*i:]))
		case 8:
			out[i] = int64(order.Uint64(b[8*i:]))
		default:
			return nil, false
		}
	}
	return out, true
}

func fieldInt(ifd gtiff.IFD, tag uint16, order binary.ByteOrder, def int64) int64 {
	vals, ok := fieldInts(ifd, tag, order)
	if !ok || len(vals) == 0 {
		return def
	}
	return vals[0]
}

// fieldRational decodes the first element of a RATIONAL field.
func fieldRational(ifd gtiff.IFD, tag uint16, order binary.ByteOrder) (float64, bool) {
	if !ifd.HasField(tag) {
		return 0, false
	}
	fld := ifd.GetField(tag)
	if fld == nil || fld.Count() < 1 {
		return 0, false
	}
	b := fld.Value().Bytes()
	if len(b) < 8 {
		return 0, false
	}
	den := order.Uint32(b[4:])
	if den == 0 {
		return 0, false
	}
	return float64(order.Uint32(b)) / float64(den), true
}

func (s *tiffSlide) Info() contracts.SlideInfo { return s.info }

func (s *tiffSlide) Concurrent() bool { return true }

func (s *tiffSlide) Close() error { return s.f.Close() }

func (s *tiffSlide) ReadRegion(ctx context.Context, r contracts.Region, level int) (*image.NRGBA, error) {
	if level < 0 || level >= len(s.levels) {
		return nil, contracts.NewRegionRead(errors.Newf("level %d of %d", level, len(s.levels)), level, r)
	}
	lv := &s.levels[level]
	if r.W < 1 || r.H < 1 || r.X < 0 || r.Y < 0 || r.X+r.W > lv.width || r.Y+r.H > lv.height {
		return nil, contracts.NewRegionRead(
			errors.Newf("region outside the %dx%d plane", lv.width, lv.height), level, r)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, r.W, r.H))

	cx0 := r.X / lv.chunkW
	cx1 := (r.X + r.W - 1) / lv.chunkW
	cy0 := r.Y / lv.chunkH
	cy1 := (r.Y + r.H - 1) / lv.chunkH

	for cy := cy0; cy <= cy1; cy++ {
		for cx := cx0; cx <= cx1; cx++ {
			if err := ctx.Err(); err != nil {
				return nil, contracts.NewRegionRead(err, level, r)
			}
			chunk, err := s.decodeChunk(lv, cx, cy)
			if err != nil {
				return nil, contracts.NewRegionRead(err, level, r)
			}
			copyChunk(dst, r, chunk, cx*lv.chunkW, cy*lv.chunkH)
		}
	}
	return dst, nil
}

// copyChunk pastes the pixels of one decoded chunk (positioned at
// (chunkX, chunkY) in level space) into the destination region buffer.
func copyChunk(dst *image.NRGBA, r contracts.Region, chunk *image.NRGBA, chunkX, chunkY int) {
	cw := chunk.Bounds().Dx()
	ch := chunk.Bounds().Dy()

	x0 := max(r.X, chunkX)
	y0 := max(r.Y, chunkY)
	x1 := min(r.X+r.W, chunkX+cw)
	y1 := min(r.Y+r.H, chunkY+ch)
	if x0 >= x1 || y0 >= y1 {
		return
	}

	rowLen := (x1 - x0) * 4
	for y := y0; y < y1; y++ {
		si := chunk.PixOffset(x0-chunkX, y-chunkY)
		di := dst.PixOffset(x0-r.X, y-r.Y)
		copy(dst.Pix[di:di+rowLen], chunk.Pix[si:si+rowLen])
	}
}

// decodeChunk reads and decodes one tile or strip. A zero offset or byte
// count means the container carries no data for that chunk, the missing
// tile condition sparse vendor pyramids are known for.
func (s *tiffSlide) decodeChunk(lv *tiffLevel, cx, cy int) (*image.NRGBA, error) {
	idx := cy*lv.chunksX + cx
	off, cnt := lv.offsets[idx], lv.counts[idx]
	if off <= 0 || cnt <= 0 {
		return nil, errors.Newf("chunk %d carries no data", idx)
	}

	raw := make([]byte, cnt)
	if _, err := s.f.ReadAt(raw, off); err != nil {
		return nil, errors.Wrapf(err, "chunk %d at offset %d", idx, off)
	}

	chunkH := lv.chunkH
	if !lv.tiled && (cy+1)*lv.chunkH > lv.height {
		// the final strip covers only the remaining rows
		chunkH = lv.height - cy*lv.chunkH
	}

	if lv.compression == compressionJPEG {
		return decodeJPEGChunk(raw, lv.jpegTables, lv.chunkW, chunkH)
	}

	var data []byte
	var err error
	switch lv.compression {
	case compressionNone:
		data = raw
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		data, err = io.ReadAll(rc)
		rc.Close()
	case compressionDeflate, compressionDeflateOld:
		var zr io.ReadCloser
		zr, err = zlib.NewReader(bytes.NewReader(raw))
		if err == nil {
			data, err = io.ReadAll(zr)
			zr.Close()
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decompress chunk %d", idx)
	}

	rowBytes := lv.chunkW * lv.samples
	need := rowBytes * chunkH
	if len(data) < need {
		return nil, errors.Newf("chunk %d decodes to %d bytes, want %d", idx, len(data), need)
	}
	if lv.predictor == 2 {
		undoHorizontalPredictor(data, rowBytes, chunkH, lv.samples)
	}
	return chunkToNRGBA(data, lv.chunkW, chunkH, lv.samples, lv.photometric), nil
}

func undoHorizontalPredictor(data []byte, rowBytes, rows, samples int) {
	for y := 0; y < rows; y++ {
		row := data[y*rowBytes : (y+1)*rowBytes]
		for i := samples; i < len(row); i++ {
			row[i] += row[i-samples]
		}
	}
}

func chunkToNRGBA(data []byte, w, h, samples, photometric int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := data[y*w*samples:]
		dst := img.Pix[y*img.Stride:]
		switch samples {
		case 1:
			for x := 0; x < w; x++ {
				v := src[x]
				if photometric == photometricWhiteIsZero {
					v = 255 - v
				}
				dst[x*4+0] = v
				dst[x*4+1] = v
				dst[x*4+2] = v
				dst[x*4+3] = 255
			}
		case 3:
			for x := 0; x < w; x++ {
				dst[x*4+0] = src[x*3+0]
				dst[x*4+1] = src[x*3+1]
				dst[x*4+2] = src[x*3+2]
				dst[x*4+3] = 255
			}
		case 4:
			copy(dst[:w*4], src[:w*4])
		}
	}
	return img
}

// decodeJPEGChunk handles new-style JPEG chunks. When the IFD carries a
// JPEGTables field, the abbreviated tables stream and the chunk stream are
// spliced into one interchange stream before decoding.
func decodeJPEGChunk(raw []byte, tables []byte, w, h int) (*image.NRGBA, error) {
	stream := raw
	if len(tables) > 4 {
		if len(raw) < 2 || raw[0] != 0xFF || raw[1] != 0xD8 {
			return nil, errors.New("JPEG chunk without SOI marker")
		}
		if tables[len(tables)-2] != 0xFF || tables[len(tables)-1] != 0xD9 {
			return nil, errors.New("JPEGTables without EOI marker")
		}
		merged := make([]byte, 0, len(tables)+len(raw)-4)
		merged = append(merged, tables[:len(tables)-2]...)
		merged = append(merged, raw[2:]...)
		stream = merged
	}

	decoded, err := jpeg.Decode(bytes.NewReader(stream))
	if err != nil {
		return nil, errors.Wrap(err, "decode JPEG chunk")
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	b := decoded.Bounds()
	cw := min(w, b.Dx())
	chh := min(h, b.Dy())
	draw.Draw(img, image.Rect(0, 0, cw, chh), decoded, b.Min, draw.Src)
	return img, nil
}
