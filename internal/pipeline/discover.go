package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/fsutil"
)

// FileExtension is the extension of PollyXT raw files.
const FileExtension = ".pxt"

// Discover expands directories in paths to the PollyXT files they contain,
// recursively and in sorted order. Other paths are passed through as given,
// so a missing file surfaces as a read failure of that file alone.
// Duplicates are dropped, keeping the first occurrence.
func Discover(fs fsutil.FileSystem, paths []string) ([]string, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if e.IsDir() {
				if err := walk(p); err != nil {
					return err
				}
				continue
			}
			if strings.EqualFold(filepath.Ext(e.Name()), FileExtension) {
				add(p)
			}
		}
		return nil
	}

	for _, p := range paths {
		info, err := fs.Stat(p)
		if err != nil || !info.IsDir() {
			add(p)
			continue
		}
		if err := walk(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}
