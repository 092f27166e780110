package assets

import (
	"io/fs"
	"path/filepath"
)

// Discover finds all regular files below dir. Directories are descended into,
// symlinks and other special files are skipped.
func Discover(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// WalkDir does not follow symlinked directories, so only the entry
		// type needs checking here.
		if !d.Type().IsRegular() {
			return nil
		}

		files = append(files, path)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// RelativePath returns the relative path from baseDir to target
func RelativePath(baseDir, target string) (string, error) {
	return filepath.Rel(baseDir, target)
}
