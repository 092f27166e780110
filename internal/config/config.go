package config

import (
	"bytes"
	"errors"
	"fmt"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config file looked up in the project root
	FileName = "cachebust.yaml"
	// DefaultAssetsDir is the assets directory relative to the project root
	DefaultAssetsDir = "assets"
	// DefaultDebounce is the quiet period used by watch mode
	DefaultDebounce = 200 * time.Millisecond
)

// DefaultPatterns select the files scanned for asset references
var DefaultPatterns = []string{"**/*.go", "**/*.html", "**/*.tmpl"}

// File represents a cachebust.yaml configuration file
type File struct {
	Source      string         `yaml:"source"`
	Out         string         `yaml:"out"`
	InPlace     bool           `yaml:"in_place"`
	AssetsDir   string         `yaml:"assets_dir"`
	SkipHashing bool           `yaml:"skip_hashing"`
	Manifest    string         `yaml:"manifest"`
	Depfile     string         `yaml:"depfile"`
	Generate    GenerateConfig `yaml:"generate"`
	Watch       WatchConfig    `yaml:"watch"`
}

// GenerateConfig configures the asset reference generator
type GenerateConfig struct {
	Root     string   `yaml:"root"`
	Patterns []string `yaml:"patterns"`
	Output   string   `yaml:"output"`
	Package  string   `yaml:"package"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the configuration file. Relative paths inside the
// file are resolved against the directory containing it.
func Load(path string) (*File, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML, rejecting unknown keys so typos do not pass silently
	var cfg File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Anchor relative paths at the config file location
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.Resolve(filepath.Dir(absPath))

	// Apply defaults
	cfg.ApplyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (f *File) expandEnv() {
	f.Source = os.ExpandEnv(f.Source)
	f.Out = os.ExpandEnv(f.Out)
	f.AssetsDir = os.ExpandEnv(f.AssetsDir)
	f.Manifest = os.ExpandEnv(f.Manifest)
	f.Depfile = os.ExpandEnv(f.Depfile)
	f.Generate.Root = os.ExpandEnv(f.Generate.Root)
	f.Generate.Output = os.ExpandEnv(f.Generate.Output)
}

// Resolve makes every non-empty relative path absolute by joining it to base
func (f *File) Resolve(base string) {
	for _, p := range []*string{
		&f.Source,
		&f.Out,
		&f.AssetsDir,
		&f.Manifest,
		&f.Depfile,
		&f.Generate.Root,
		&f.Generate.Output,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// ApplyDefaults fills in zero-value fields that do not depend on the project root.
func (f *File) ApplyDefaults() {
	if len(f.Generate.Patterns) == 0 {
		f.Generate.Patterns = append([]string(nil), DefaultPatterns...)
	}
	if f.Generate.Package == "" {
		f.Generate.Package = "assets"
	}
	if f.Watch.Debounce <= 0 {
		f.Watch.Debounce = DefaultDebounce
	}
}

// Validate checks the configuration for errors
func (f *File) Validate() error {
	for _, p := range f.Generate.Patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("generate.patterns: invalid pattern %q", p)
		}
	}

	if !token.IsIdentifier(f.Generate.Package) {
		return fmt.Errorf("generate.package: %q is not a valid Go package name", f.Generate.Package)
	}

	return nil
}
