package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NormalizeExtension lowercases ext and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// HasExtension reports whether name ends in ext, ignoring case.
func HasExtension(name, ext string) bool {
	return strings.EqualFold(filepath.Ext(name), NormalizeExtension(ext))
}

// ScanDir lists the regular files directly inside dir whose extension matches
// ext. Subdirectories are not descended into. Paths are absolute and sorted.
func ScanDir(dir, ext string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", abs, err)
	}
	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !HasExtension(entry.Name(), ext) {
			continue
		}
		paths = append(paths, filepath.Join(abs, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
