package digest

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/sha256-simd"
)

// Separator joins the original stem and the hex digest in a hashed name.
const Separator = "-"

// HexLen is the length of a hex encoded SHA-256 digest
const HexLen = sha256.Size * 2

// Parts is a hashed file name split into its components
type Parts struct {
	Stem   string
	Digest string
	Ext    string
	HasExt bool
}

// HashedName reads the file at path and returns its name with the content
// digest inserted before the extension, e.g. circle.png -> circle-<hex>.png
func HashedName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	return Name(filepath.Base(path), Sum(data)), nil
}

// Sum returns the lowercase hex SHA-256 digest of data
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Name builds the hashed name for fileName given its hex digest.
func Name(fileName, hexDigest string) string {
	stem, ext, hasExt := splitName(fileName)

	var b strings.Builder
	b.WriteString(stem)
	b.WriteString(Separator)
	b.WriteString(hexDigest)
	if hasExt {
		b.WriteString(".")
		b.WriteString(ext)
	}
	return b.String()
}

// Parse splits a hashed name produced by Name. The second return value is
// false if name does not carry a digest.
func Parse(name string) (Parts, bool) {
	// The digest never contains a dot, so the last dot still marks the
	// original extension.
	stem, ext, hasExt := splitName(name)

	p, ok := parseStem(stem)
	if !ok {
		return Parts{}, false
	}
	p.Ext = ext
	p.HasExt = hasExt
	return p, true
}

func parseStem(s string) (Parts, bool) {
	cut := len(s) - HexLen - len(Separator)
	if cut < 0 || s[cut:cut+len(Separator)] != Separator {
		return Parts{}, false
	}
	hexDigest := s[cut+len(Separator):]
	if !isLowerHex(hexDigest) {
		return Parts{}, false
	}
	return Parts{Stem: s[:cut], Digest: hexDigest}, true
}

// splitName separates a file name into stem and extension. Dot files like
// ".htaccess" have no extension; "name." has an empty one.
func splitName(name string) (stem, ext string, hasExt bool) {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, "", false
	}
	return name[:i], name[i+1:], true
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
