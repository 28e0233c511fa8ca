package extract

import (
	"fmt"
	"os"

	"github.com/lu4p/cat"
)

// catFormats are read through lu4p/cat, which only opens files by path.
var catFormats = map[string]bool{
	".odt": true,
	".rtf": true,
}

func extractCatFile(path string) (string, error) {
	text, err := cat.File(path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", path, err)
	}
	return text, nil
}

// extractCatBytes spools content to a temp file so cat can open it.
func extractCatBytes(content []byte, ext string) (string, error) {
	f, err := os.CreateTemp("", "docqa-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return extractCatFile(f.Name())
}
