package files_manager

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"slidecut/contracts"
)

type SlideFolder = contracts.SlideFolder

// CheckDirs validates the input and output roots before any work starts.
// A bad input root is fatal; the output root is created when missing. The
// two trees must not nest, otherwise a run would rediscover its own
// outputs.
func CheckDirs(inputRoot string, outputRoot string) error {
	if inputRoot == "" || outputRoot == "" {
		return contracts.MarkNotFound(errors.New("input and output directories required"))
	}

	stat, err := os.Stat(inputRoot)
	if err != nil {
		return contracts.NewNotFound(inputRoot)
	}
	if !stat.IsDir() {
		return contracts.MarkNotFound(errors.Newf("input path %s is not a directory", inputRoot))
	}

	absIn, err := filepath.Abs(inputRoot)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", inputRoot)
	}
	absOut, err := filepath.Abs(outputRoot)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", outputRoot)
	}
	if absIn == absOut {
		return errors.New("input and output directories must be different")
	}
	if isSubPath(absIn, absOut) || isSubPath(absOut, absIn) {
		return errors.New("input and output directories must not be nested")
	}

	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return contracts.NewWrite(err, outputRoot)
	}
	return nil
}

func isSubPath(parent string, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// HasSlideExt reports whether the file name carries one of the recognized
// slide extensions. Matching is case-insensitive.
func HasSlideExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// CollectSlideFolders recursively walks root and groups recognized slide
// files by their containing directory. Folders and the slides inside them
// come back sorted, so enumeration order is stable across runs. Unreadable
// subdirectories are skipped and reported in the second return value; a
// missing root fails with the not-found mark.
func CollectSlideFolders(root string, exts []string) ([]SlideFolder, []string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, nil, contracts.NewNotFound(root)
	}

	groups := make(map[string][]string)
	var skipped []string

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				// the root itself failed to stat
				return contracts.MarkNotFound(errors.Wrapf(err, "walk %s", path))
			}
			skipped = append(skipped, path)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "._") {
			// AppleDouble metadata next to the real file
			return nil
		}
		if !HasSlideExt(name, exts) {
			return nil
		}
		dir := filepath.Dir(path)
		groups[dir] = append(groups[dir], path)
		return nil
	})
	if walkErr != nil {
		return nil, skipped, walkErr
	}

	dirs := make([]string, 0, len(groups))
	for dir := range groups {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	folders := make([]SlideFolder, 0, len(dirs))
	for _, dir := range dirs {
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return nil, skipped, errors.Wrapf(err, "relativize %s", dir)
		}
		slides := groups[dir]
		sort.Strings(slides)
		folders = append(folders, SlideFolder{
			Path:    dir,
			RelPath: rel,
			Slides:  slides,
		})
	}
	return folders, skipped, nil
}
