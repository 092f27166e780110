package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Environment keys
const (
	EnvProjectDir  = "CACHEBUST_PROJECT_DIR"
	EnvAssetsDir   = "CACHEBUST_ASSETS_DIR"
	EnvSkipHashing = "CACHEBUST_SKIP_HASHING"
)

// LookupFunc has the signature of os.LookupEnv
type LookupFunc func(key string) (string, bool)

// Env is a snapshot of the variables cachebust reads, taken once at startup.
// Process variables take precedence over values from a .env file.
type Env struct {
	lookup LookupFunc
	dotenv map[string]string
}

// NewEnv creates an Env from a lookup function and optional .env values
func NewEnv(lookup LookupFunc, dotenv map[string]string) *Env {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	if dotenv == nil {
		dotenv = map[string]string{}
	}
	return &Env{lookup: lookup, dotenv: dotenv}
}

// LoadEnv reads the .env file at dotenvPath, if it exists, and layers the
// process environment on top.
func LoadEnv(lookup LookupFunc, dotenvPath string) (*Env, error) {
	vars, err := godotenv.Read(dotenvPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewEnv(lookup, nil), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dotenvPath, err)
	}
	return NewEnv(lookup, vars), nil
}

// Get returns the value for key
func (e *Env) Get(key string) (string, bool) {
	if v, ok := e.lookup(key); ok {
		return v, true
	}
	v, ok := e.dotenv[key]
	return v, ok
}

// AssetsDir returns the assets directory for the rewriter: the
// CACHEBUST_ASSETS_DIR override resolved against projectRoot, or
// <projectRoot>/assets.
func (e *Env) AssetsDir(projectRoot string) string {
	dir, ok := e.Get(EnvAssetsDir)
	if !ok || dir == "" {
		dir = DefaultAssetsDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(projectRoot, dir)
}

// SkipHashing reports whether CACHEBUST_SKIP_HASHING is "1"
func (e *Env) SkipHashing() bool {
	v, _ := e.Get(EnvSkipHashing)
	return v == "1"
}

// ProjectRoot returns CACHEBUST_PROJECT_DIR when set, otherwise the nearest
// directory at or above cwd that contains a go.mod file.
func ProjectRoot(lookup LookupFunc, cwd string) (string, error) {
	if lookup != nil {
		if dir, ok := lookup(EnvProjectDir); ok && dir != "" {
			return filepath.Abs(dir)
		}
	}

	root, err := FindModuleRoot(cwd)
	if err != nil {
		return "", &Error{Kind: ErrProjectRootNotFound}
	}
	return root, nil
}

// FindModuleRoot walks up the directory tree from start to find go.mod
func FindModuleRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	// Walk up the directory tree looking for go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root without finding go.mod
			return "", fmt.Errorf("go.mod not found in any parent directory of %s", start)
		}
		dir = parent
	}
}
