package bust

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schaermu/cachebust/internal/config"
)

// Report describes the operations of a HashDir run
type Report struct {
	SourceDir string
	DestDir   string // out directory, or the source directory in place
	Mode      config.Mode
	Ops       []FileOp
}

// FileOp represents a single hashed file
type FileOp struct {
	Source string // absolute path of the original file
	Dest   string // path of the hashed file
	Hash   string // hex SHA-256 of the content
}

// Manifest maps slash separated source paths relative to the source
// directory to hashed paths relative to the destination directory.
func (r *Report) Manifest() (map[string]string, error) {
	m := make(map[string]string, len(r.Ops))
	for _, op := range r.Ops {
		from, err := filepath.Rel(r.SourceDir, op.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to compute relative path: %w", err)
		}
		to, err := filepath.Rel(r.DestDir, op.Dest)
		if err != nil {
			return nil, fmt.Errorf("failed to compute relative path: %w", err)
		}
		m[filepath.ToSlash(from)] = filepath.ToSlash(to)
	}
	return m, nil
}

// WriteManifest persists the manifest as indented JSON
func (r *Report) WriteManifest(path string) error {
	m, err := r.Manifest()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
