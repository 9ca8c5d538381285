// Package slide_source opens whole-slide image containers behind a single
// polymorphic interface. Each container family registers a sniffer and an
// opener; Open picks the first registered format whose sniffer matches the
// file, so adding a format never touches the dispatch code.
package slide_source

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"slidecut/contracts"
)

type Slide = contracts.Slide

// sniffLen is how many leading bytes Open hands to format sniffers.
const sniffLen = 16

type format struct {
	name  string
	match func(path string, header []byte) bool
	open  func(path string) (Slide, error)
}

var (
	formatsMu sync.RWMutex
	formats   []format
)

// Register makes a container format available to Open. Ordinarily called
// from an init function in the file implementing the format.
func Register(name string, match func(path string, header []byte) bool, open func(path string) (Slide, error)) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats = append(formats, format{name: name, match: match, open: open})
}

// Open dispatches on the file's extension and leading bytes and opens it
// with the matching adapter. Files no adapter claims, and files a matching
// adapter cannot parse, fail with the unreadable-slide mark.
func Open(path string) (Slide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, contracts.NewUnreadableSlide(path, err)
	}
	header := make([]byte, sniffLen)
	n, _ := f.Read(header)
	f.Close()
	header = header[:n]

	formatsMu.RLock()
	defer formatsMu.RUnlock()
	for _, fm := range formats {
		if !fm.match(path, header) {
			continue
		}
		s, err := fm.open(path)
		if err != nil {
			if contracts.IsUnreadableSlide(err) {
				return nil, err
			}
			return nil, contracts.NewUnreadableSlide(path, err)
		}
		return s, nil
	}
	return nil, contracts.NewUnreadableSlide(path,
		errors.Newf("no registered reader matches %q", filepath.Base(path)))
}

func slideName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
