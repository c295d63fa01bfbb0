package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetAbsolutePath returns path unchanged if it is absolute, otherwise resolves
// it against baseDir.
func GetAbsolutePath(path, baseDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Clean(filepath.Join(baseDir, path))
}

// EnsureDir creates dir and its parents if they are missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
