// Package fileutil resolves table paths and writes output files with
// tmp+mv semantics.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrFileNotFound indicates none of the probed paths exist.
var ErrFileNotFound = errors.New("file not found")

// TableSuffixes are appended, in order, to a path that doesn't exist as given.
var TableSuffixes = []string{"", ".db2", ".dbc", ".adb"}

// Candidates returns the paths probed for a table path, in order.
func Candidates(path string) []string {
	out := make([]string, len(TableSuffixes))
	for i, s := range TableSuffixes {
		out[i] = path + s
	}
	return out
}

// Resolve returns the first candidate that exists as a regular file.
func Resolve(path string) (string, error) {
	for _, c := range Candidates(path) {
		info, err := os.Stat(c)
		if err == nil && info.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%s: %w", path, ErrFileNotFound)
}

// ClassName derives a table name from a file path: the base name up to the
// first '.', so "DBFilesClient/Spell.db2" yields "Spell".
func ClassName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base
}

// WriteTmpThenMove writes to a temporary file then atomically moves it to the final path.
// The writeFunc receives the temporary path and should write the complete file.
// On success, the file is moved to outPath atomically.
func WriteTmpThenMove(outPath string, writeFunc func(tmpPath string) error) error {
	outDir := filepath.Dir(outPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// Same directory as the target so the rename stays on one filesystem
	tmpPath := outPath + ".tmp"

	if err := writeFunc(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := syncFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to final: %w", err)
	}
	return nil
}

// syncFile opens, syncs, and closes a file.
func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	err = f.Sync()
	f.Close()
	return err
}
