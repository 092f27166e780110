package bust

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/cachebust/internal/assets"
	"github.com/schaermu/cachebust/internal/config"
	"github.com/schaermu/cachebust/internal/deps"
	"github.com/schaermu/cachebust/internal/digest"
)

// Engine renames asset files to their content-hashed names
type Engine struct {
	settings *config.Settings
	tracker  deps.Tracker
	logger   *slog.Logger
	dryRun   bool
}

// NewEngine creates a new engine for validated settings. A nil tracker
// discards dependency information.
func NewEngine(settings *config.Settings, tracker deps.Tracker, logger *slog.Logger, dryRun bool) *Engine {
	if tracker == nil {
		tracker = deps.Nop{}
	}
	return &Engine{
		settings: settings,
		tracker:  tracker,
		logger:   logger,
		dryRun:   dryRun,
	}
}

// HashDir hashes every regular file below the source directory. In copy mode
// the out directory is cleared first and the tree is mirrored into it; in
// place mode each file is renamed inside its own directory.
func (e *Engine) HashDir() (*Report, error) {
	s := e.settings
	e.logger.Info("hashing directory",
		"source", s.SourceDir,
		"out", s.OutDir,
		"mode", s.Mode.String(),
		"dry_run", e.dryRun)

	for _, w := range s.Warnings {
		e.logger.Warn(w)
	}

	e.tracker.Track(s.SourceDir)

	if s.Mode == config.ModeCopy {
		if err := e.clearOut(); err != nil {
			return nil, err
		}
	}

	// Discover everything before touching any file so outputs of this run
	// are never picked up again.
	files, err := assets.Discover(s.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover source files: %w", err)
	}

	report := &Report{SourceDir: s.SourceDir, DestDir: e.destRoot(), Mode: s.Mode}
	for _, src := range files {
		if s.Mode == config.ModeCopy && isWithin(s.OutDir, src) {
			continue
		}
		e.tracker.Track(src)

		relPath, err := assets.RelativePath(s.SourceDir, src)
		if err != nil {
			return nil, fmt.Errorf("failed to compute relative path: %w", err)
		}

		op, err := e.planFile(src, filepath.Join(report.DestDir, filepath.Dir(relPath)))
		if err != nil {
			return nil, err
		}
		report.Ops = append(report.Ops, op)
	}

	e.logger.Info("discovered source files", "count", len(report.Ops))

	if e.dryRun {
		e.logPlanDetails(report)
		e.logger.Info("dry-run complete, no changes applied")
		return report, nil
	}

	if s.Mode == config.ModeCopy {
		if err := os.MkdirAll(s.OutDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create out directory: %w", err)
		}
	}

	for _, op := range report.Ops {
		if err := e.apply(op); err != nil {
			return nil, err
		}
	}

	e.logger.Info("hashing completed", "files", len(report.Ops))
	return report, nil
}

// HashFile hashes a single file and returns the path of the result. A
// relative file is resolved against the source directory and its directory is
// mirrored below the out directory. An absolute file lands directly in the
// out directory. The out directory is never cleared.
func (e *Engine) HashFile(file string) (string, error) {
	s := e.settings

	var src, destDir string
	if filepath.IsAbs(file) {
		src = filepath.Clean(file)
		destDir = s.OutDir
		if s.Mode == config.ModeInPlace {
			destDir = filepath.Dir(src)
		}
	} else {
		if !filepath.IsLocal(file) {
			return "", &config.Error{Kind: config.ErrOutsideRoot, Path: file}
		}
		src = filepath.Join(s.SourceDir, file)
		destDir = filepath.Join(e.destRoot(), filepath.Dir(file))
	}

	e.tracker.Track(src)

	op, err := e.planFile(src, destDir)
	if err != nil {
		return "", err
	}

	if e.dryRun {
		e.logger.Info("[dry-run] would hash", "source", op.Source, "dest", op.Dest)
		return op.Dest, nil
	}

	if err := e.apply(op); err != nil {
		return "", err
	}
	return op.Dest, nil
}

// destRoot is the directory hashed files are written below
func (e *Engine) destRoot() string {
	if e.settings.Mode == config.ModeInPlace {
		return e.settings.SourceDir
	}
	return e.settings.OutDir
}

// planFile derives the hashed name of src and the operation placing it in destDir
func (e *Engine) planFile(src, destDir string) (FileOp, error) {
	name, err := digest.HashedName(src)
	if err != nil {
		return FileOp{}, fmt.Errorf("failed to compute hash for %s: %w", src, err)
	}

	parts, _ := digest.Parse(name)
	return FileOp{
		Source: src,
		Dest:   filepath.Join(destDir, name),
		Hash:   parts.Digest,
	}, nil
}

// apply performs a planned operation according to the mode
func (e *Engine) apply(op FileOp) error {
	switch e.settings.Mode {
	case config.ModeInPlace:
		e.logger.Info("moving", "from", op.Source, "to", op.Dest)
		if err := os.Rename(op.Source, op.Dest); err != nil {
			return fmt.Errorf("failed to rename %s: %w", op.Source, err)
		}
	default:
		e.logger.Info("copying", "from", op.Source, "to", op.Dest)
		if err := e.copyFile(op.Source, op.Dest); err != nil {
			return fmt.Errorf("failed to copy %s: %w", op.Source, err)
		}
	}
	return nil
}

// clearOut removes the out directory and everything in it
func (e *Engine) clearOut() error {
	out := e.settings.OutDir

	info, err := os.Stat(out)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat out directory: %w", err)
	}
	if !info.IsDir() {
		return &config.Error{Kind: config.ErrOutIsFile, Path: out}
	}

	if e.dryRun {
		e.logger.Info("[dry-run] would clear out directory", "out", out)
		return nil
	}

	e.logger.Debug("clearing out directory", "out", out)
	if err := os.RemoveAll(out); err != nil {
		return fmt.Errorf("failed to clear out directory: %w", err)
	}
	return nil
}

// copyFile copies a file from src to dst with atomic write
func (e *Engine) copyFile(src, dst string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".cachebust-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}

// logPlanDetails logs every planned operation for dry-run
func (e *Engine) logPlanDetails(report *Report) {
	verb := "[dry-run] would copy"
	if report.Mode == config.ModeInPlace {
		verb = "[dry-run] would move"
	}
	for _, op := range report.Ops {
		e.logger.Info(verb, "from", op.Source, "to", op.Dest)
	}
}

// isWithin reports whether path is dir or lies below it
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
