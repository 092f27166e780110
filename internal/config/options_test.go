package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOptionsValidate(t *testing.T) {
	tmpDir := t.TempDir()
	source := filepath.Join(tmpDir, "assets")
	if err := os.MkdirAll(source, 0755); err != nil {
		t.Fatal(err)
	}
	plainFile := filepath.Join(tmpDir, "file.txt")
	if err := os.WriteFile(plainFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		opts     Options
		wantErr  error
		wantMode Mode
		wantOut  string
		warnings int
	}{
		{
			name:     "copy mode",
			opts:     Options{SourceDir: source, OutDir: filepath.Join(tmpDir, "out")},
			wantMode: ModeCopy,
			wantOut:  filepath.Join(tmpDir, "out"),
		},
		{
			name:     "out dir may already exist",
			opts:     Options{SourceDir: source, OutDir: filepath.Join(tmpDir, "existing")},
			wantMode: ModeCopy,
			wantOut:  filepath.Join(tmpDir, "existing"),
		},
		{
			name:     "in place",
			opts:     Options{SourceDir: source, InPlace: true},
			wantMode: ModeInPlace,
		},
		{
			name:     "in place ignores out dir",
			opts:     Options{SourceDir: source, OutDir: filepath.Join(tmpDir, "out"), InPlace: true},
			wantMode: ModeInPlace,
			warnings: 1,
		},
		{
			name:    "missing source",
			opts:    Options{OutDir: filepath.Join(tmpDir, "out")},
			wantErr: ErrSourceNotSet,
		},
		{
			name:    "source is a file",
			opts:    Options{SourceDir: plainFile, InPlace: true},
			wantErr: ErrSourceNotDir,
		},
		{
			name:    "source does not exist",
			opts:    Options{SourceDir: filepath.Join(tmpDir, "nope"), InPlace: true},
			wantErr: ErrSourceNotDir,
		},
		{
			name:    "neither out nor in place",
			opts:    Options{SourceDir: source},
			wantErr: ErrOutNotSet,
		},
		{
			name:    "out is a file",
			opts:    Options{SourceDir: source, OutDir: plainFile},
			wantErr: ErrOutIsFile,
		},
		{
			name:    "out equals source",
			opts:    Options{SourceDir: source, OutDir: source},
			wantErr: ErrOutContainsSource,
		},
		{
			name:    "out is parent of source",
			opts:    Options{SourceDir: source, OutDir: tmpDir},
			wantErr: ErrOutContainsSource,
		},
		{
			name:     "out nested inside source",
			opts:     Options{SourceDir: source, OutDir: filepath.Join(source, "hashed")},
			wantMode: ModeCopy,
			wantOut:  filepath.Join(source, "hashed"),
		},
	}

	if err := os.MkdirAll(filepath.Join(tmpDir, "existing"), 0755); err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.opts.Validate()
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("Validate() error = nil, want %v", tt.wantErr)
				}
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				var cfgErr *Error
				if !errors.As(err, &cfgErr) {
					t.Errorf("Validate() error is %T, want *Error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if s.Mode != tt.wantMode {
				t.Errorf("Mode = %v, want %v", s.Mode, tt.wantMode)
			}
			if s.OutDir != tt.wantOut {
				t.Errorf("OutDir = %q, want %q", s.OutDir, tt.wantOut)
			}
			if s.SourceDir != tt.opts.SourceDir {
				t.Errorf("SourceDir = %q, want %q", s.SourceDir, tt.opts.SourceDir)
			}
			if len(s.Warnings) != tt.warnings {
				t.Errorf("Warnings = %v, want %d entries", s.Warnings, tt.warnings)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: ErrSourceNotDir, Path: "/tmp/x"}
	if got := err.Error(); got != "/tmp/x: source is not a directory" {
		t.Errorf("Error() = %q", got)
	}

	err = &Error{Kind: ErrOutNotSet}
	if got := err.Error(); got != ErrOutNotSet.Error() {
		t.Errorf("Error() = %q", got)
	}
}

func TestModeString(t *testing.T) {
	if ModeCopy.String() != "copy" || ModeInPlace.String() != "in-place" {
		t.Errorf("unexpected mode strings %q %q", ModeCopy, ModeInPlace)
	}
	if Mode(7).String() != "Mode(7)" {
		t.Errorf("unexpected unknown mode string %q", Mode(7))
	}
}

func TestOptionsValidate_RelativePaths(t *testing.T) {
	tmpDir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "assets"), 0755); err != nil {
		t.Fatal(err)
	}

	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("failed to restore working directory: %v", err)
		}
	})

	out := filepath.Join(tmpDir, "assets", "dist")
	s, err := Options{SourceDir: "assets", OutDir: out}.Validate()
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if s.SourceDir != filepath.Join(tmpDir, "assets") {
		t.Errorf("SourceDir = %q, want absolute path", s.SourceDir)
	}
	if s.OutDir != out {
		t.Errorf("OutDir = %q, want %q", s.OutDir, out)
	}

	s, err = Options{SourceDir: filepath.Join(tmpDir, "assets"), OutDir: "public"}.Validate()
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if s.OutDir != filepath.Join(tmpDir, "public") {
		t.Errorf("OutDir = %q, want absolute path", s.OutDir)
	}

	_, err = Options{SourceDir: "assets", OutDir: "."}.Validate()
	if !errors.Is(err, ErrOutContainsSource) {
		t.Errorf("Validate() error = %v, want %v", err, ErrOutContainsSource)
	}
}

func TestSettingsCheckOutput(t *testing.T) {
	tmpDir := t.TempDir()
	source := filepath.Join(tmpDir, "assets")
	s := &Settings{SourceDir: source, OutDir: filepath.Join(source, "dist"), Mode: ModeCopy}

	tests := []struct {
		path    string
		wantErr bool
	}{
		{filepath.Join(tmpDir, "manifest.json"), false},
		{filepath.Join(source, "dist", "manifest.json"), false},
		{filepath.Join(source, "manifest.json"), true},
		{filepath.Join(source, "sub", "manifest.json"), true},
	}
	for _, tt := range tests {
		err := s.CheckOutput(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckOutput(%s) = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrOutputInSource) {
			t.Errorf("CheckOutput(%s) = %v, want %v", tt.path, err, ErrOutputInSource)
		}
	}

	inPlace := &Settings{SourceDir: source, Mode: ModeInPlace}
	if err := inPlace.CheckOutput(filepath.Join(source, "manifest.json")); !errors.Is(err, ErrOutputInSource) {
		t.Errorf("in place CheckOutput = %v, want %v", err, ErrOutputInSource)
	}
}
