package hashutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSHA256String(t *testing.T) {
	got := SHA256String("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Fatalf("SHA256String = %s, want %s", got, want)
	}
}

func TestSHA256File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := SHA256File(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != SHA256String("hello") {
		t.Fatalf("file hash diverges from string hash")
	}
}

func TestFingerprintStability(t *testing.T) {
	a := NewFingerprint().Str("hello").Str("world").Hex()
	b := NewFingerprint().Str("hello").Str("world").Hex()
	c := NewFingerprint().Str("hello").Str("different").Hex()
	if a != b {
		t.Fatal("identical inputs produced different fingerprints")
	}
	if a == c {
		t.Fatal("different inputs produced equal fingerprints")
	}
	// component boundaries matter
	d := NewFingerprint().Str("hellow").Str("orld").Hex()
	if a == d {
		t.Fatal("fingerprint ignores component boundaries")
	}
}

func TestFingerprintOpt(t *testing.T) {
	present := NewFingerprint().Opt("", true).Hex()
	absent := NewFingerprint().Opt("", false).Hex()
	if present == absent {
		t.Fatal("present-empty and absent components hash equal")
	}
}
