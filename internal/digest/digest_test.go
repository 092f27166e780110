package digest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

const (
	emptyDigest    = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	someTextDigest = "4c2e9e6da31a64c70623619c449a040968cdbea85945bf384fa30ed2d5d24fa3"
	helloDigest    = "d9014c4624844aa5bac314773d6b689ad467fa4e1d1a50a1b8a99d5a95f72ff5"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHashedName(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "empty file", file: "empty", content: "", want: "empty-" + emptyDigest},
		{name: "no extension", file: "some_text", content: "Some text", want: "some_text-" + someTextDigest},
		{name: "with extension", file: "hello.txt", content: "Hello, world!\n", want: "hello-" + helloDigest + ".txt"},
		{name: "only final extension moves", file: "bundle.min.js", content: "", want: "bundle.min-" + emptyDigest + ".js"},
		{name: "dot file has no extension", file: ".htaccess", content: "", want: ".htaccess-" + emptyDigest},
		{name: "trailing dot kept", file: "odd.", content: "", want: "odd-" + emptyDigest + "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)

			got, err := HashedName(path)
			if err != nil {
				t.Fatalf("HashedName() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("HashedName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashedName_Deterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.css", "body { color: red; }\n")

	first, err := HashedName(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		again, err := HashedName(path)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("HashedName() changed between calls: %q != %q", again, first)
		}
	}
}

func TestHashedName_ContentChange(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "a")
	b := writeFile(t, t.TempDir(), "a.txt", "b")

	nameA, err := HashedName(a)
	if err != nil {
		t.Fatal(err)
	}
	nameB, err := HashedName(b)
	if err != nil {
		t.Fatal(err)
	}
	if nameA == nameB {
		t.Errorf("files differing by one byte produced the same name %q", nameA)
	}
}

func TestHashedName_SameContentDifferentStem(t *testing.T) {
	dir := t.TempDir()
	one := writeFile(t, dir, "one.txt", "Some text")
	two := writeFile(t, dir, "two", "Some text")

	nameOne, err := HashedName(one)
	if err != nil {
		t.Fatal(err)
	}
	nameTwo, err := HashedName(two)
	if err != nil {
		t.Fatal(err)
	}

	p1, ok := Parse(nameOne)
	if !ok {
		t.Fatalf("Parse(%q) failed", nameOne)
	}
	p2, ok := Parse(nameTwo)
	if !ok {
		t.Fatalf("Parse(%q) failed", nameTwo)
	}
	if p1.Digest != p2.Digest {
		t.Errorf("digest differs for identical content: %s vs %s", p1.Digest, p2.Digest)
	}
}

func TestHashedName_MissingFile(t *testing.T) {
	_, err := HashedName(filepath.Join(t.TempDir(), "missing.png"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist in chain, got %v", err)
	}
}

func TestSum(t *testing.T) {
	if got := Sum(nil); got != emptyDigest {
		t.Errorf("Sum(nil) = %s, want %s", got, emptyDigest)
	}
	if got := Sum([]byte("Some text")); got != someTextDigest {
		t.Errorf("Sum(Some text) = %s, want %s", got, someTextDigest)
	}
	if len(Sum([]byte("x"))) != HexLen {
		t.Errorf("digest length != %d", HexLen)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		ok     bool
		stem   string
		ext    string
		hasExt bool
	}{
		{in: "hello-" + helloDigest + ".txt", ok: true, stem: "hello", ext: "txt", hasExt: true},
		{in: "some_text-" + someTextDigest, ok: true, stem: "some_text"},
		{in: ".env-" + emptyDigest, ok: true, stem: ".env"},
		{in: "bundle.min-" + emptyDigest + ".js", ok: true, stem: "bundle.min", ext: "js", hasExt: true},
		{in: "hello.txt", ok: false},
		{in: "short-abc.txt", ok: false},
		{in: "upper-" + "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855", ok: false},
		{in: "nosep" + emptyDigest, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, ok := Parse(tt.in)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if !ok {
				return
			}
			if p.Stem != tt.stem || p.Ext != tt.ext || p.HasExt != tt.hasExt {
				t.Errorf("Parse(%q) = %+v", tt.in, p)
			}
			if len(p.Digest) != HexLen {
				t.Errorf("digest length = %d", len(p.Digest))
			}
			if Name(rebuild(p), p.Digest) != tt.in {
				t.Errorf("Name(Parse(%q)) did not round-trip", tt.in)
			}
		})
	}
}

func rebuild(p Parts) string {
	if p.HasExt {
		return p.Stem + "." + p.Ext
	}
	return p.Stem
}
