package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	content := "CACHEBUST_ASSETS_DIR=static\nCACHEBUST_SKIP_HASHING=1\n"
	if err := os.WriteFile(dotenv, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	env, err := LoadEnv(mapLookup(map[string]string{EnvSkipHashing: "0"}), dotenv)
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}

	// .env fills gaps
	if got := env.AssetsDir("/project"); got != filepath.Join("/project", "static") {
		t.Errorf("AssetsDir = %s, want /project/static", got)
	}
	// process environment wins
	if env.SkipHashing() {
		t.Error("process value 0 should override .env value 1")
	}
}

func TestLoadEnv_MissingFile(t *testing.T) {
	env, err := LoadEnv(mapLookup(nil), filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := env.AssetsDir("/project"); got != filepath.Join("/project", "assets") {
		t.Errorf("AssetsDir = %s, want default", got)
	}
	if env.SkipHashing() {
		t.Error("SkipHashing should default to false")
	}
}

func TestEnv_AssetsDirAbsolute(t *testing.T) {
	env := NewEnv(mapLookup(map[string]string{EnvAssetsDir: "/srv/assets"}), nil)
	if got := env.AssetsDir("/project"); got != "/srv/assets" {
		t.Errorf("AssetsDir = %s, want /srv/assets", got)
	}
}

func TestEnv_SkipHashingOnlyOne(t *testing.T) {
	for _, v := range []string{"true", "yes", "", "01"} {
		env := NewEnv(mapLookup(map[string]string{EnvSkipHashing: v}), nil)
		if env.SkipHashing() {
			t.Errorf("SkipHashing() = true for %q", v)
		}
	}
}

func TestProjectRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/site\n"), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(dir, "web", "static")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	root, err := ProjectRoot(mapLookup(nil), nested)
	if err != nil {
		t.Fatalf("ProjectRoot: %v", err)
	}
	if root != dir {
		t.Errorf("ProjectRoot = %s, want %s", root, dir)
	}

	override := t.TempDir()
	root, err = ProjectRoot(mapLookup(map[string]string{EnvProjectDir: override}), nested)
	if err != nil {
		t.Fatalf("ProjectRoot: %v", err)
	}
	if root != override {
		t.Errorf("ProjectRoot = %s, want override %s", root, override)
	}
}

func TestProjectRoot_NotFound(t *testing.T) {
	// The filesystem root has no go.mod in the test environment
	_, err := ProjectRoot(mapLookup(nil), string(filepath.Separator))
	if !errors.Is(err, ErrProjectRootNotFound) {
		t.Errorf("expected ErrProjectRootNotFound, got %v", err)
	}
}
