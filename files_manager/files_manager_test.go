package files_manager

import (
	"os"
	"path/filepath"
	"testing"

	"slidecut/contracts"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCollectSlideFolders(t *testing.T) {
	root := t.TempDir()
	exts := []string{".mrxs", ".tiff"}

	touch(t, filepath.Join(root, "batch1", "s2.mrxs"))
	touch(t, filepath.Join(root, "batch1", "s1.mrxs"))
	touch(t, filepath.Join(root, "batch1", "notes.txt"))
	touch(t, filepath.Join(root, "batch2", "deep", "scan.TIFF"))
	touch(t, filepath.Join(root, "batch2", "._scan.TIFF"))
	touch(t, filepath.Join(root, "empty", "readme.md"))
	touch(t, filepath.Join(root, "top.mrxs"))

	folders, skipped, err := CollectSlideFolders(root, exts)
	if err != nil {
		t.Fatalf("CollectSlideFolders failed: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped dirs: %v", skipped)
	}
	if len(folders) != 3 {
		t.Fatalf("got %d folders, want 3: %+v", len(folders), folders)
	}

	t.Run("root folder grouping", func(t *testing.T) {
		if folders[0].Path != root || folders[0].RelPath != "." {
			t.Errorf("first folder %q rel %q, want root and %q", folders[0].Path, folders[0].RelPath, ".")
		}
		if len(folders[0].Slides) != 1 || filepath.Base(folders[0].Slides[0]) != "top.mrxs" {
			t.Errorf("root slides = %v", folders[0].Slides)
		}
	})

	t.Run("slides sorted within folder", func(t *testing.T) {
		got := folders[1]
		if got.RelPath != "batch1" {
			t.Fatalf("second folder rel %q, want batch1", got.RelPath)
		}
		if len(got.Slides) != 2 {
			t.Fatalf("batch1 slides = %v", got.Slides)
		}
		if filepath.Base(got.Slides[0]) != "s1.mrxs" || filepath.Base(got.Slides[1]) != "s2.mrxs" {
			t.Errorf("batch1 slides out of order: %v", got.Slides)
		}
	})

	t.Run("case-insensitive extension and AppleDouble skip", func(t *testing.T) {
		got := folders[2]
		if got.RelPath != filepath.Join("batch2", "deep") {
			t.Fatalf("third folder rel %q", got.RelPath)
		}
		if len(got.Slides) != 1 || filepath.Base(got.Slides[0]) != "scan.TIFF" {
			t.Errorf("batch2/deep slides = %v", got.Slides)
		}
	})
}

func TestCollectSlideFoldersMissingRoot(t *testing.T) {
	_, _, err := CollectSlideFolders(filepath.Join(t.TempDir(), "nope"), []string{".mrxs"})
	if err == nil {
		t.Fatal("expected an error for a missing root")
	}
	if !contracts.IsNotFound(err) {
		t.Fatalf("error %v is not marked not-found", err)
	}
}

func TestCollectSlideFoldersNoMatches(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "file.txt"))

	folders, _, err := CollectSlideFolders(root, []string{".mrxs"})
	if err != nil {
		t.Fatalf("CollectSlideFolders failed: %v", err)
	}
	if len(folders) != 0 {
		t.Fatalf("got %d folders, want 0", len(folders))
	}
}

func TestHasSlideExt(t *testing.T) {
	exts := []string{".mrxs", ".tiff"}
	cases := []struct {
		name string
		want bool
	}{
		{"slide.mrxs", true},
		{"SLIDE.MRXS", true},
		{"scan.tiff", true},
		{"scan.tif", false},
		{"noext", false},
		{"archive.tar.gz", false},
	}
	for _, tc := range cases {
		if got := HasSlideExt(tc.name, exts); got != tc.want {
			t.Errorf("HasSlideExt(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCheckDirs(t *testing.T) {
	base := t.TempDir()
	in := filepath.Join(base, "in")
	if err := os.MkdirAll(in, 0o755); err != nil {
		t.Fatal(err)
	}

	t.Run("creates missing output root", func(t *testing.T) {
		out := filepath.Join(base, "out", "nested")
		if err := CheckDirs(in, out); err != nil {
			t.Fatalf("CheckDirs failed: %v", err)
		}
		if stat, err := os.Stat(out); err != nil || !stat.IsDir() {
			t.Fatal("output root was not created")
		}
	})

	t.Run("missing input is not-found", func(t *testing.T) {
		err := CheckDirs(filepath.Join(base, "absent"), filepath.Join(base, "out2"))
		if err == nil || !contracts.IsNotFound(err) {
			t.Fatalf("got %v, want a not-found error", err)
		}
	})

	t.Run("input file instead of directory", func(t *testing.T) {
		f := filepath.Join(base, "plain")
		touch(t, f)
		if err := CheckDirs(f, filepath.Join(base, "out3")); err == nil {
			t.Fatal("expected an error for a non-directory input")
		}
	})

	t.Run("rejects nested roots", func(t *testing.T) {
		if err := CheckDirs(in, filepath.Join(in, "out")); err == nil {
			t.Fatal("output nested in input must be rejected")
		}
		if err := CheckDirs(in, in); err == nil {
			t.Fatal("identical roots must be rejected")
		}
	})

	t.Run("empty arguments", func(t *testing.T) {
		if err := CheckDirs("", ""); err == nil {
			t.Fatal("expected an error for empty roots")
		}
	})
}
