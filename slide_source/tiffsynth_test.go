package slide_source

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"sort"
	"testing"
)

// Synthetic pyramid fixtures: hand-assembled classic little-endian TIFFs
// with one IFD per level and deterministic gradient payloads, so region
// reads can be checked pixel for pixel. The returned handle records where
// each chunk's offset and byte-count entries live in the file, letting
// tests corrupt individual chunks surgically.

type synthLevel struct {
	width, height int
	tileW, tileH  int // zero means striped
	rowsPerStrip  int // striped only; zero means one strip
	compression   int
	samples       int
	predictor     bool
	dpi           int // zero omits the resolution tags
}

type chunkRef struct {
	offsetPos int64
	countPos  int64
}

type synthTIFF struct {
	path   string
	chunks [][]chunkRef
}

func synthPix(level, samples, x, y int) []byte {
	switch samples {
	case 1:
		return []byte{byte(x + 2*y + 7*level)}
	case 3:
		return []byte{byte(x), byte(y), byte(x + y + 31*level)}
	default:
		return []byte{byte(x), byte(y), byte(x + y + 31*level), 255}
	}
}

func synthJPEGColor(cx, cy int) color.RGBA {
	return color.RGBA{R: byte(60 + 40*cx), G: byte(90 + 35*cy), B: 120, A: 255}
}

type ifdEntry struct {
	tag  uint16
	typ  uint16 // 3 = SHORT, 4 = LONG, 5 = RATIONAL (vals as num,den pairs)
	vals []uint32
}

func entryElemSize(typ uint16) int {
	if typ == 3 {
		return 2
	}
	return 4
}

func entryCount(e ifdEntry) uint32 {
	if e.typ == 5 {
		return uint32(len(e.vals) / 2)
	}
	return uint32(len(e.vals))
}

// serializeIFD renders one directory at absolute position pos, with
// out-of-line values packed right after it. valuePos maps each tag to the
// absolute file position of its first value byte.
func serializeIFD(pos int, entries []ifdEntry, next uint32) ([]byte, map[uint16]int) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	n := len(entries)
	dirLen := 2 + 12*n + 4
	out := make([]byte, dirLen)
	valuePos := make(map[uint16]int, n)
	var blob []byte

	binary.LittleEndian.PutUint16(out[0:], uint16(n))
	for i, e := range entries {
		base := 2 + 12*i
		binary.LittleEndian.PutUint16(out[base:], e.tag)
		binary.LittleEndian.PutUint16(out[base+2:], e.typ)
		binary.LittleEndian.PutUint32(out[base+4:], entryCount(e))

		payload := make([]byte, 0, len(e.vals)*entryElemSize(e.typ))
		for _, v := range e.vals {
			if e.typ == 3 {
				var b [2]byte
				binary.LittleEndian.PutUint16(b[:], uint16(v))
				payload = append(payload, b[:]...)
			} else {
				var b [4]byte
				binary.LittleEndian.PutUint32(b[:], v)
				payload = append(payload, b[:]...)
			}
		}
		if len(payload) <= 4 {
			copy(out[base+8:], payload)
			valuePos[e.tag] = pos + base + 8
		} else {
			off := pos + dirLen + len(blob)
			binary.LittleEndian.PutUint32(out[base+8:], uint32(off))
			valuePos[e.tag] = off
			blob = append(blob, payload...)
		}
	}
	binary.LittleEndian.PutUint32(out[2+12*n:], next)
	return append(out, blob...), valuePos
}

func synthChunkBytes(t *testing.T, level int, lv synthLevel, x0, y0, cw, rows int) []byte {
	t.Helper()

	if lv.compression == compressionJPEG {
		img := image.NewRGBA(image.Rect(0, 0, cw, rows))
		draw.Draw(img, img.Bounds(), image.NewUniform(synthJPEGColor(x0/cw, y0/rows)), image.Point{}, draw.Src)
		var b bytes.Buffer
		if err := jpeg.Encode(&b, img, &jpeg.Options{Quality: 95}); err != nil {
			t.Fatalf("encode JPEG chunk: %v", err)
		}
		return b.Bytes()
	}

	raw := make([]byte, 0, cw*rows*lv.samples)
	for row := 0; row < rows; row++ {
		y := y0 + row
		for col := 0; col < cw; col++ {
			x := x0 + col
			if x < lv.width && y < lv.height {
				raw = append(raw, synthPix(level, lv.samples, x, y)...)
			} else {
				raw = append(raw, make([]byte, lv.samples)...)
			}
		}
	}

	if lv.predictor {
		rowBytes := cw * lv.samples
		for r := 0; r < rows; r++ {
			row := raw[r*rowBytes : (r+1)*rowBytes]
			for i := len(row) - 1; i >= lv.samples; i-- {
				row[i] -= row[i-lv.samples]
			}
		}
	}

	switch lv.compression {
	case compressionNone:
		return raw
	case compressionDeflate:
		var b bytes.Buffer
		zw := zlib.NewWriter(&b)
		if _, err := zw.Write(raw); err != nil {
			t.Fatalf("compress chunk: %v", err)
		}
		zw.Close()
		return b.Bytes()
	}
	t.Fatalf("fixture generator does not support compression %d", lv.compression)
	return nil
}

func writeSynthTIFF(t *testing.T, path string, levels []synthLevel) *synthTIFF {
	t.Helper()

	buf := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}

	type levelChunks struct {
		offsets []uint32
		counts  []uint32
	}
	lcs := make([]levelChunks, len(levels))

	for li, lv := range levels {
		cw, ch := lv.tileW, lv.tileH
		tiled := cw > 0
		if !tiled {
			cw = lv.width
			ch = lv.rowsPerStrip
			if ch == 0 {
				ch = lv.height
			}
		}
		chunksX := (lv.width + cw - 1) / cw
		chunksY := (lv.height + ch - 1) / ch
		for cy := 0; cy < chunksY; cy++ {
			for cx := 0; cx < chunksX; cx++ {
				rows := ch
				if !tiled && (cy+1)*ch > lv.height {
					rows = lv.height - cy*ch
				}
				payload := synthChunkBytes(t, li, lv, cx*cw, cy*ch, cw, rows)
				lcs[li].offsets = append(lcs[li].offsets, uint32(len(buf)))
				lcs[li].counts = append(lcs[li].counts, uint32(len(payload)))
				buf = append(buf, payload...)
			}
		}
	}

	st := &synthTIFF{path: path, chunks: make([][]chunkRef, len(levels))}

	prevNextPos := 4 // the header cell pointing at IFD 0
	for li, lv := range levels {
		pos := len(buf)
		binary.LittleEndian.PutUint32(buf[prevNextPos:], uint32(pos))

		phot := uint32(photometricBlackIsZero)
		if lv.samples >= 3 {
			phot = photometricRGB
		}
		if lv.compression == compressionJPEG {
			phot = photometricYCbCr
		}
		bits := make([]uint32, lv.samples)
		for i := range bits {
			bits[i] = 8
		}
		entries := []ifdEntry{
			{tagImageWidth, 4, []uint32{uint32(lv.width)}},
			{tagImageLength, 4, []uint32{uint32(lv.height)}},
			{tagBitsPerSample, 3, bits},
			{tagCompression, 3, []uint32{uint32(lv.compression)}},
			{tagPhotometric, 3, []uint32{phot}},
			{tagSamplesPerPixel, 3, []uint32{uint32(lv.samples)}},
			{tagPlanarConfig, 3, []uint32{1}},
		}
		if lv.predictor {
			entries = append(entries, ifdEntry{tagPredictor, 3, []uint32{2}})
		}
		if lv.dpi > 0 {
			entries = append(entries,
				ifdEntry{tagXResolution, 5, []uint32{uint32(lv.dpi), 1}},
				ifdEntry{tagYResolution, 5, []uint32{uint32(lv.dpi), 1}},
				ifdEntry{tagResolutionUnit, 3, []uint32{2}})
		}
		offTag, cntTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
		if lv.tileW > 0 {
			offTag, cntTag = tagTileOffsets, tagTileByteCounts
			entries = append(entries,
				ifdEntry{tagTileWidth, 3, []uint32{uint32(lv.tileW)}},
				ifdEntry{tagTileLength, 3, []uint32{uint32(lv.tileH)}},
				ifdEntry{tagTileOffsets, 4, lcs[li].offsets},
				ifdEntry{tagTileByteCounts, 4, lcs[li].counts})
		} else {
			rps := lv.rowsPerStrip
			if rps == 0 {
				rps = lv.height
			}
			entries = append(entries,
				ifdEntry{tagRowsPerStrip, 4, []uint32{uint32(rps)}},
				ifdEntry{tagStripOffsets, 4, lcs[li].offsets},
				ifdEntry{tagStripByteCounts, 4, lcs[li].counts})
		}

		ifdBytes, valuePos := serializeIFD(pos, entries, 0)
		buf = append(buf, ifdBytes...)
		prevNextPos = pos + 2 + 12*len(entries)

		for i := range lcs[li].offsets {
			st.chunks[li] = append(st.chunks[li], chunkRef{
				offsetPos: int64(valuePos[offTag] + 4*i),
				countPos:  int64(valuePos[cntTag] + 4*i),
			})
		}
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return st
}

// zeroChunkOffset makes one chunk look like the container never stored
// it, the sparse-pyramid condition.
func (st *synthTIFF) zeroChunkOffset(t *testing.T, level, idx int) {
	t.Helper()
	f, err := os.OpenFile(st.path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte{0, 0, 0, 0}, st.chunks[level][idx].offsetPos); err != nil {
		t.Fatalf("poison chunk: %v", err)
	}
}

// inflateChunkCount points one chunk's byte count past the end of the
// file, so its read fails mid-payload.
func (st *synthTIFF) inflateChunkCount(t *testing.T, level, idx int) {
	t.Helper()
	fi, err := os.Stat(st.path)
	if err != nil {
		t.Fatalf("stat fixture: %v", err)
	}
	f, err := os.OpenFile(st.path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(fi.Size()+4096))
	if _, err := f.WriteAt(b[:], st.chunks[level][idx].countPos); err != nil {
		t.Fatalf("poison chunk: %v", err)
	}
}
