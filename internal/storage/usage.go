package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Usage summarizes the contents of a layer directory.
type Usage struct {
	Entries int
	Bytes   int64
	// Skipped counts directories that could not be read (files created by
	// other ids inside the session).
	Skipped int
}

// MeasureUsage walks root and totals entries and regular file sizes.
// Unreadable subdirectories are counted and skipped rather than failing the
// walk. The root itself is not counted.
func MeasureUsage(root string) (Usage, error) {
	var u Usage

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path != root && errors.Is(err, fs.ErrPermission) {
				u.Skipped++
				return filepath.SkipDir
			}
			return err
		}
		if path == root {
			return nil
		}

		u.Entries++
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			u.Bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	return u, nil
}
