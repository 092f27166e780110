// Package deps records the files an operation read so a surrounding build
// system can rerun it when one of them changes.
package deps

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Tracker receives every path an operation depends on
type Tracker interface {
	Track(path string)
}

// Nop is a Tracker that discards everything
type Nop struct{}

// Track implements Tracker
func (Nop) Track(string) {}

// Recorder collects unique paths in the order they were first seen
type Recorder struct {
	paths []string
	seen  map[string]bool
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]bool)}
}

// Track implements Tracker
func (r *Recorder) Track(path string) {
	path = filepath.Clean(path)
	if r.seen[path] {
		return
	}
	r.seen[path] = true
	r.paths = append(r.paths, path)
}

// Paths returns the recorded paths
func (r *Recorder) Paths() []string {
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}

// WriteDepfile writes a Make-style rule "target: dep dep ..." for the recorded
// paths. Each dependency goes on its own continuation line.
func (r *Recorder) WriteDepfile(w io.Writer, target string) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintf(bw, "%s:", escape(target)); err != nil {
		return err
	}
	for _, p := range r.paths {
		if _, err := fmt.Fprintf(bw, " \\\n  %s", escape(p)); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return err
	}

	return bw.Flush()
}

// SaveDepfile writes the depfile to path
func (r *Recorder) SaveDepfile(path, target string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create depfile directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create depfile: %w", err)
	}

	if err := r.WriteDepfile(f, target); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write depfile: %w", err)
	}

	return f.Close()
}

var escaper = strings.NewReplacer(`\`, `\\`, " ", `\ `, "#", `\#`, "$", "$$")

func escape(p string) string {
	return escaper.Replace(filepath.ToSlash(p))
}
