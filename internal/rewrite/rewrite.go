// Package rewrite turns logical asset paths used in source code into the
// content-hashed paths produced by the hashing engine.
package rewrite

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/golang-lru/v2"

	"github.com/schaermu/cachebust/internal/deps"
	"github.com/schaermu/cachebust/internal/digest"
)

const cacheSize = 1024

// ErrInvalidPath is returned for empty asset paths or paths leaving the assets directory
var ErrInvalidPath = errors.New("asset path must name a file inside the assets directory")

// ResolveError reports an asset reference that could not be rewritten
type ResolveError struct {
	Asset string
	Err   error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("failed to resolve asset %q: %v", e.Asset, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Rewriter maps logical asset paths to hashed paths. It never modifies the
// filesystem.
type Rewriter struct {
	assetsDir   string
	skipHashing bool
	tracker     deps.Tracker
	cache       *lru.Cache[string, string] // logical path to result, shared by every caller
}

// New creates a Rewriter resolving paths below assetsDir. With skipHashing
// set files are still read, so missing assets fail, but names are kept.
func New(assetsDir string, skipHashing bool, tracker deps.Tracker) (*Rewriter, error) {
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = deps.Nop{}
	}
	return &Rewriter{
		assetsDir:   assetsDir,
		skipHashing: skipHashing,
		tracker:     tracker,
		cache:       cache,
	}, nil
}

// AssetsDir returns the directory logical paths are resolved against
func (r *Rewriter) AssetsDir() string {
	return r.assetsDir
}

// Rewrite returns the hashed form of a slash separated logical path such as
// "/css/app.css". Only the final element changes, so a leading slash or "./"
// is kept as written.
func (r *Rewriter) Rewrite(logical string) (string, error) {
	if cached, ok := r.cache.Get(logical); ok {
		return cached, nil
	}

	rel := strings.TrimPrefix(logical, "/")
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", &ResolveError{Asset: logical, Err: ErrInvalidPath}
	}

	file := filepath.Join(r.assetsDir, filepath.FromSlash(rel))
	r.tracker.Track(file)

	name, err := digest.HashedName(file)
	if err != nil {
		return "", &ResolveError{Asset: logical, Err: err}
	}

	result := logical
	if !r.skipHashing {
		result = logical[:strings.LastIndex(logical, "/")+1] + name
	}

	r.cache.Add(logical, result)
	return result, nil
}
