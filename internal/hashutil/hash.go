// Package hashutil provides sha256 helpers and the fingerprint builder used
// for cache keys throughout the builder.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"golang.org/x/xerrors"
)

// SHA256Bytes returns the hex sha256 of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256String returns the hex sha256 of s.
func SHA256String(s string) string {
	return SHA256Bytes([]byte(s))
}

// SHA256File returns the hex sha256 of the file contents at path.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", xerrors.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", xerrors.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint accumulates components into a stable hash. Components are
// NUL-separated so that ("ab","c") and ("a","bc") hash differently.
type Fingerprint struct {
	h hash.Hash
}

// NewFingerprint returns an empty fingerprint builder.
func NewFingerprint() *Fingerprint {
	return &Fingerprint{h: sha256.New()}
}

// Str adds a string component.
func (f *Fingerprint) Str(s string) *Fingerprint {
	f.h.Write([]byte(s))
	f.h.Write([]byte{0})
	return f
}

// Strs adds each string in items.
func (f *Fingerprint) Strs(items []string) *Fingerprint {
	for _, s := range items {
		f.Str(s)
	}
	return f
}

// Opt adds an optional string with a presence marker, so that an absent
// component is distinguishable from an empty one.
func (f *Fingerprint) Opt(s string, present bool) *Fingerprint {
	if present {
		f.h.Write([]byte{1})
		f.Str(s)
	} else {
		f.h.Write([]byte{0})
	}
	return f
}

// Bool adds a boolean component.
func (f *Fingerprint) Bool(b bool) *Fingerprint {
	if b {
		f.h.Write([]byte{1})
	} else {
		f.h.Write([]byte{0})
	}
	return f
}

// Hex returns the full hex digest.
func (f *Fingerprint) Hex() string {
	return hex.EncodeToString(f.h.Sum(nil))
}

// ShortHex returns the first 16 hex characters of the digest.
func (f *Fingerprint) ShortHex() string {
	return f.Hex()[:16]
}
