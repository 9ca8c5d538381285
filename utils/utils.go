package utils

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
)

// Resolution is a slide's physical sampling density in dots per inch.
type Resolution struct {
	XDPI float64
	YDPI float64
}

// TIFFResolution pulls XResolution/YResolution out of a TIFF's EXIF
// structure. Best effort: vendor files often omit or mangle the tags, so
// callers treat an error as "unknown", never as a failed slide.
func TIFFResolution(path string) (Resolution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Resolution{}, errors.Wrap(err, "read slide")
	}

	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		return Resolution{}, errors.Wrap(err, "no EXIF block")
	}

	im := exifcommon.NewIfdMapping()
	ti := exif.NewTagIndex()
	if err := exifcommon.LoadStandardIfds(im); err != nil {
		return Resolution{}, err
	}
	_, index, err := exif.Collect(im, ti, rawExif)
	if err != nil {
		return Resolution{}, err
	}

	readRational := func(name string) (float64, bool) {
		tags, err := index.RootIfd.FindTagWithName(name)
		if err != nil || len(tags) == 0 {
			return 0, false
		}
		val, err := tags[0].Value()
		if err != nil {
			return 0, false
		}
		rats, ok := val.([]exifcommon.Rational)
		if !ok || len(rats) == 0 || rats[0].Denominator == 0 {
			return 0, false
		}
		return float64(rats[0].Numerator) / float64(rats[0].Denominator), true
	}

	x, okX := readRational("XResolution")
	y, okY := readRational("YResolution")
	if !okX && !okY {
		return Resolution{}, errors.New("no resolution tags")
	}
	if !okX {
		x = y
	}
	if !okY {
		y = x
	}

	// unit 3 means pixels per centimeter
	if tags, err := index.RootIfd.FindTagWithName("ResolutionUnit"); err == nil && len(tags) > 0 {
		if val, err := tags[0].Value(); err == nil {
			cm := false
			switch u := val.(type) {
			case uint16:
				cm = u == 3
			case []uint16:
				cm = len(u) > 0 && u[0] == 3
			}
			if cm {
				x *= 2.54
				y *= 2.54
			}
		}
	}
	return Resolution{XDPI: x, YDPI: y}, nil
}

// DirSizeMB totals the regular files under dir, in mebibytes.
func DirSizeMB(dir string) (float64, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "walk %s", dir)
	}
	return float64(total) / (1 << 20), nil
}
