// Package watch re-runs hashing when files in the source directory change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when Config.Debounce is not positive
const DefaultDebounce = 200 * time.Millisecond

// ignored never trigger a run. Editors and the copy step create these.
var ignored = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
	"**/.cachebust-tmp-*",
}

// Config holds the parameters for a Watcher
type Config struct {
	// SourceDir is watched recursively
	SourceDir string

	// IgnoreDir is skipped together with everything below it, usually the
	// out directory when it lives inside SourceDir.
	IgnoreDir string

	Debounce time.Duration

	// OnChange runs on the event loop after the debounce window closes with
	// the sorted changed paths relative to SourceDir. Errors are logged and
	// the loop continues.
	OnChange func(ctx context.Context, changed []string) error

	Logger *slog.Logger
}

// Watcher monitors a source tree and fires a debounced callback
type Watcher struct {
	cfg       Config
	fsw       *fsnotify.Watcher
	sourceDir string
	ignoreDir string
	debounce  time.Duration
	logger    *slog.Logger
}

// Run watches until ctx is cancelled
func Run(ctx context.Context, cfg Config) error {
	w, err := New(cfg)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// New creates a Watcher and registers every directory below SourceDir
func New(cfg Config) (*Watcher, error) {
	if cfg.SourceDir == "" {
		return nil, errors.New("watch: source directory must be set")
	}

	sourceDir, err := filepath.Abs(cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source directory: %w", err)
	}

	var ignoreDir string
	if cfg.IgnoreDir != "" {
		if ignoreDir, err = filepath.Abs(cfg.IgnoreDir); err != nil {
			return nil, fmt.Errorf("failed to resolve ignored directory: %w", err)
		}
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		cfg:       cfg,
		fsw:       fsw,
		sourceDir: sourceDir,
		ignoreDir: ignoreDir,
		debounce:  debounce,
		logger:    logger,
	}

	if err := w.addDirectories(sourceDir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return w, nil
}

// Run processes events until ctx is cancelled. The callback runs on this
// goroutine so two runs never overlap; events arriving meanwhile are queued
// by fsnotify and handled afterwards.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		_ = w.fsw.Close()
	}()

	pending := make(map[string]struct{})
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	w.logger.Info("watching for changes", "source", w.sourceDir, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed unexpectedly")
			}
			rel, keep := w.relevant(evt)
			if !keep {
				continue
			}

			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}

			w.logger.Debug("change detected", "path", rel, "op", evt.Op.String())
			pending[rel] = struct{}{}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			clear(pending)
			sort.Strings(changed)

			if w.cfg.OnChange == nil {
				continue
			}
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("run failed", "error", err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed unexpectedly")
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// relevant filters an event and returns its path relative to the source
func (w *Watcher) relevant(evt fsnotify.Event) (string, bool) {
	// Permission changes do not alter content
	if evt.Op == fsnotify.Chmod {
		return "", false
	}
	if w.isIgnoredDir(evt.Name) {
		return "", false
	}

	rel, err := filepath.Rel(w.sourceDir, evt.Name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if isIgnored(rel) {
		return "", false
	}
	return rel, true
}

// addDirectories registers root and every directory below it
func (w *Watcher) addDirectories(root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.isIgnoredDir(path) {
			return filepath.SkipDir
		}
		if rel, relErr := filepath.Rel(w.sourceDir, path); relErr == nil && rel != "." && isIgnored(filepath.ToSlash(rel)+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register directories: %w", err)
	}
	return nil
}

// maybeAddDir starts watching a directory created after startup
func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addDirectories(path); err != nil {
		w.logger.Warn("failed to watch new directory", "path", path, "error", err)
	}
}

func (w *Watcher) isIgnoredDir(path string) bool {
	if w.ignoreDir == "" {
		return false
	}
	rel, err := filepath.Rel(w.ignoreDir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func isIgnored(rel string) bool {
	for _, pattern := range ignored {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}
