package build

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/hashutil"
)

// CompileFingerprint captures the full input set of one compile step:
// identical inputs always produce an identical fingerprint, and changing
// any one input flips it.
type CompileFingerprint struct {
	SourceHash string `json:"source_hash"`
	Compiler   string `json:"compiler"`
	FlagsHash  string `json:"flags_hash"`

	// HeaderHashes maps tracked header paths to their content hashes,
	// sorted by path on encode.
	HeaderHashes map[string]string `json:"header_hashes,omitempty"`
}

// NewCompileFingerprint hashes a source file, compiler name, flag set,
// and tracked headers.
func NewCompileFingerprint(source, compiler string, flags []string, headers []string) (CompileFingerprint, error) {
	sourceHash, err := hashutil.SHA256File(source)
	if err != nil {
		return CompileFingerprint{}, err
	}

	sorted := append([]string(nil), flags...)
	sort.Strings(sorted)
	flagsHash := hashutil.NewFingerprint().Strs(sorted).ShortHex()

	headerHashes := map[string]string{}
	for _, h := range headers {
		if _, err := os.Stat(h); err != nil {
			continue
		}
		hh, err := hashutil.SHA256File(h)
		if err != nil {
			return CompileFingerprint{}, err
		}
		headerHashes[h] = hh
	}

	return CompileFingerprint{
		SourceHash:   sourceHash,
		Compiler:     compiler,
		FlagsHash:    flagsHash,
		HeaderHashes: headerHashes,
	}, nil
}

// Matches reports whether nothing changed between the fingerprints.
func (f CompileFingerprint) Matches(other CompileFingerprint) bool {
	if f.SourceHash != other.SourceHash || f.Compiler != other.Compiler || f.FlagsHash != other.FlagsHash {
		return false
	}
	if len(f.HeaderHashes) != len(other.HeaderHashes) {
		return false
	}
	for k, v := range f.HeaderHashes {
		if other.HeaderHashes[k] != v {
			return false
		}
	}
	return true
}

// LinkFingerprint captures the input set of a link or archive step.
type LinkFingerprint struct {
	ObjectHashes map[string]string `json:"object_hashes"`
	LibHashes    map[string]string `json:"lib_hashes,omitempty"`
	FlagsHash    string            `json:"flags_hash"`
	Abi          string            `json:"abi"`
}

// NewLinkFingerprint hashes the objects, library files, flag set, and the
// target's ABI fingerprint.
func NewLinkFingerprint(objects, libs, flags []string, abiFingerprint string) (LinkFingerprint, error) {
	hashExisting := func(paths []string) (map[string]string, error) {
		out := map[string]string{}
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			h, err := hashutil.SHA256File(p)
			if err != nil {
				return nil, err
			}
			out[p] = h
		}
		return out, nil
	}

	objectHashes, err := hashExisting(objects)
	if err != nil {
		return LinkFingerprint{}, err
	}
	libHashes, err := hashExisting(libs)
	if err != nil {
		return LinkFingerprint{}, err
	}

	sorted := append([]string(nil), flags...)
	sort.Strings(sorted)

	return LinkFingerprint{
		ObjectHashes: objectHashes,
		LibHashes:    libHashes,
		FlagsHash:    hashutil.NewFingerprint().Strs(sorted).ShortHex(),
		Abi:          abiFingerprint,
	}, nil
}

// Matches reports whether nothing changed between the fingerprints.
func (f LinkFingerprint) Matches(other LinkFingerprint) bool {
	if f.FlagsHash != other.FlagsHash || f.Abi != other.Abi {
		return false
	}
	if len(f.ObjectHashes) != len(other.ObjectHashes) || len(f.LibHashes) != len(other.LibHashes) {
		return false
	}
	for k, v := range f.ObjectHashes {
		if other.ObjectHashes[k] != v {
			return false
		}
	}
	for k, v := range f.LibHashes {
		if other.LibHashes[k] != v {
			return false
		}
	}
	return true
}

// FingerprintCache is the per-workspace persisted incremental state. It
// is read once at executor start, mutated only by the driver, and written
// once atomically at the end of a successful build.
type FingerprintCache struct {
	// Compile fingerprints by source path.
	Compile map[string]CompileFingerprint `json:"compile"`

	// Link fingerprints by "<package>/<target>".
	Link map[string]LinkFingerprint `json:"link"`
}

// NewFingerprintCache returns an empty cache.
func NewFingerprintCache() *FingerprintCache {
	return &FingerprintCache{
		Compile: map[string]CompileFingerprint{},
		Link:    map[string]LinkFingerprint{},
	}
}

// LoadFingerprintCache reads the persisted cache; a missing or corrupt
// file yields an empty cache (everything rebuilds).
func LoadFingerprintCache(path string) *FingerprintCache {
	content, err := os.ReadFile(path)
	if err != nil {
		return NewFingerprintCache()
	}
	cache := NewFingerprintCache()
	if err := json.Unmarshal(content, cache); err != nil {
		return NewFingerprintCache()
	}
	if cache.Compile == nil {
		cache.Compile = map[string]CompileFingerprint{}
	}
	if cache.Link == nil {
		cache.Link = map[string]LinkFingerprint{}
	}
	return cache
}

// Save persists the cache atomically.
func (c *FingerprintCache) Save(path string) error {
	content, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return xerrors.Errorf("encode fingerprint cache: %w", err)
	}
	if err := renameio.WriteFile(path, content, 0644); err != nil {
		return xerrors.Errorf("write fingerprint cache: %w", err)
	}
	return nil
}

// NeedsCompile reports whether the source must recompile.
func (c *FingerprintCache) NeedsCompile(source string, current CompileFingerprint) bool {
	cached, ok := c.Compile[source]
	return !ok || !cached.Matches(current)
}

// NeedsLink reports whether the target must relink.
func (c *FingerprintCache) NeedsLink(key string, current LinkFingerprint) bool {
	cached, ok := c.Link[key]
	return !ok || !cached.Matches(current)
}
