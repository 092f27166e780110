package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode selects what happens to a hashed file
type Mode int

const (
	// ModeCopy copies hashed files into the out directory
	ModeCopy Mode = iota
	// ModeInPlace renames files inside the source directory
	ModeInPlace
)

func (m Mode) String() string {
	switch m {
	case ModeCopy:
		return "copy"
	case ModeInPlace:
		return "in-place"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Configuration error kinds, matched with errors.Is
var (
	ErrSourceNotSet        = errors.New("source directory must be set")
	ErrSourceNotDir        = errors.New("source is not a directory")
	ErrOutNotSet           = errors.New("out directory must be specified or in-place set to true")
	ErrOutIsFile           = errors.New("out directory is already a file")
	ErrOutContainsSource   = errors.New("out directory must not contain the source directory")
	ErrProjectRootNotFound = errors.New("project root not found: set CACHEBUST_PROJECT_DIR or run inside a Go module")
	ErrOutsideRoot         = errors.New("path escapes the source directory")
	ErrOutputInSource      = errors.New("generated file inside the source directory would be hashed as an asset")
)

// Error is a configuration error tied to an optional path
type Error struct {
	Kind error
	Path string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Options collects the settings of a hashing run before validation.
// All fields are optional; Validate decides whether the combination is usable.
type Options struct {
	SourceDir string
	OutDir    string
	InPlace   bool
}

// Settings is a validated, immutable description of a hashing run. Both
// directories are absolute.
type Settings struct {
	SourceDir string
	OutDir    string // empty in ModeInPlace
	Mode      Mode

	// Warnings lists option combinations that were accepted but adjusted
	Warnings []string
}

// Validate checks the options and resolves them into Settings. It only
// inspects the filesystem, it never writes to it.
func (o Options) Validate() (*Settings, error) {
	if o.SourceDir == "" {
		return nil, &Error{Kind: ErrSourceNotSet}
	}

	info, err := os.Stat(o.SourceDir)
	if err != nil || !info.IsDir() {
		return nil, &Error{Kind: ErrSourceNotDir, Path: o.SourceDir}
	}

	source, err := filepath.Abs(o.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source directory: %w", err)
	}
	s := &Settings{SourceDir: source}

	switch {
	case o.InPlace && o.OutDir != "":
		s.Mode = ModeInPlace
		s.Warnings = append(s.Warnings, fmt.Sprintf("in-place is set, ignoring out directory %s", o.OutDir))
	case o.InPlace:
		s.Mode = ModeInPlace
	case o.OutDir != "":
		s.Mode = ModeCopy
		if s.OutDir, err = filepath.Abs(o.OutDir); err != nil {
			return nil, fmt.Errorf("failed to resolve out directory: %w", err)
		}
	default:
		return nil, &Error{Kind: ErrOutNotSet}
	}

	if s.Mode == ModeCopy {
		if info, err := os.Stat(s.OutDir); err == nil && !info.IsDir() {
			return nil, &Error{Kind: ErrOutIsFile, Path: s.OutDir}
		}
		// The out directory is removed before every run
		if contains(s.OutDir, s.SourceDir) {
			return nil, &Error{Kind: ErrOutContainsSource, Path: s.OutDir}
		}
	}

	return s, nil
}

// CheckOutput rejects a file written after every run, such as a manifest,
// that would land in the source tree outside the out directory.
func (s *Settings) CheckOutput(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if !contains(s.SourceDir, abs) {
		return nil
	}
	if s.Mode == ModeCopy && contains(s.OutDir, abs) {
		return nil
	}
	return &Error{Kind: ErrOutputInSource, Path: path}
}

// contains reports whether child is parent itself or lies below it. Both
// paths must be absolute.
func contains(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
