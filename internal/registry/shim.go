// Package registry implements the git-backed shim registry source. The
// index is a git repository of small TOML files that redirect to the real
// upstream (git commit or tarball) plus optional verified patches.
package registry

import (
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/hashutil"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// ShimPath computes the index-relative shim location:
// <first-letter>/<name>/<version>.toml. Lookup is O(1): no directory
// scanning.
func ShimPath(name, version string) (string, error) {
	if err := manifest.ValidateRegistryName(name); err != nil {
		return "", err
	}
	return string(name[0]) + "/" + name + "/" + version + ".toml", nil
}

// Shim is a parsed registry shim file.
type Shim struct {
	Package ShimPackage `toml:"package"`
	Source  ShimSource  `toml:"source"`
	Patches []ShimPatch `toml:"patches"`

	// SurfaceOverride exposes a surface for bootstrap packages that lack
	// a manifest.
	SurfaceOverride *ShimSurface `toml:"surface_override"`

	// Surface is the legacy spelling of SurfaceOverride.
	Surface *ShimSurface `toml:"surface"`
}

// ShimPackage names the shimmed package.
type ShimPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// ShimSource declares the upstream; exactly one of Git/Tarball is set.
type ShimSource struct {
	Git     *ShimGit     `toml:"git"`
	Tarball *ShimTarball `toml:"tarball"`
}

// ShimGit pins an upstream git commit. Branches and tags are disallowed:
// only a full 40-char sha reproduces.
type ShimGit struct {
	URL      string `toml:"url"`
	Rev      string `toml:"rev"`
	Checksum string `toml:"checksum"`
}

// ShimTarball names an upstream tarball with a mandatory content hash.
type ShimTarball struct {
	URL         string `toml:"url"`
	SHA256      string `toml:"sha256"`
	StripPrefix string `toml:"strip_prefix"`
}

// ShimPatch is one verified patch applied via git apply.
type ShimPatch struct {
	File   string `toml:"file"`
	SHA256 string `toml:"sha256"`
}

// ShimSurface is the surface override for bootstrap packages.
type ShimSurface struct {
	Compile struct {
		Public struct {
			Defines     []string `toml:"defines"`
			IncludeDirs []string `toml:"include_dirs"`
		} `toml:"public"`
	} `toml:"compile"`
}

// LoadShim parses and validates a shim file.
func LoadShim(path string) (*Shim, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read shim: %w", err)
	}
	var shim Shim
	if err := toml.Unmarshal(content, &shim); err != nil {
		return nil, diag.New("malformed shim file %s", path).WithCause(err)
	}
	if err := shim.Validate(); err != nil {
		return nil, err
	}
	return &shim, nil
}

// Validate enforces the shim structural rules.
func (s *Shim) Validate() error {
	if err := manifest.ValidateRegistryName(s.Package.Name); err != nil {
		return err
	}
	hasGit := s.Source.Git != nil
	hasTarball := s.Source.Tarball != nil
	switch {
	case hasGit && hasTarball:
		return diag.New("shim for %q declares both git and tarball sources", s.Package.Name)
	case !hasGit && !hasTarball:
		return diag.New("shim for %q declares no source", s.Package.Name)
	}
	if hasGit && !fullShaRe.MatchString(s.Source.Git.Rev) {
		return diag.New("shim for %q: git rev must be a full 40-char commit sha", s.Package.Name).
			WithContext("got %q", s.Source.Git.Rev).
			WithSuggestion("branches and tags are not allowed in shims; pin the commit")
	}
	if hasTarball && s.Source.Tarball.SHA256 == "" {
		return diag.New("shim for %q: tarball source requires sha256", s.Package.Name)
	}
	if len(s.Patches) > 0 && hasTarball {
		return diag.New("shim for %q: patches require git source", s.Package.Name)
	}
	return nil
}

// EffectiveSurface resolves the surface-override precedence: the newer
// surface_override key wins over the legacy surface key.
func (s *Shim) EffectiveSurface() *ShimSurface {
	if s.SurfaceOverride != nil {
		return s.SurfaceOverride
	}
	return s.Surface
}

// IsGit reports whether the shim resolves to a git upstream.
func (s *Shim) IsGit() bool { return s.Source.Git != nil }

// SourceHash fingerprints the resolved upstream; it keys the source cache
// directory so a shim edit re-fetches.
func (s *Shim) SourceHash() string {
	fp := hashutil.NewFingerprint()
	if s.Source.Git != nil {
		fp.Str("git").Str(s.Source.Git.URL).Str(s.Source.Git.Rev)
	} else if s.Source.Tarball != nil {
		fp.Str("tarball").Str(s.Source.Tarball.URL).Str(s.Source.Tarball.SHA256)
	}
	for _, p := range s.Patches {
		fp.Str(p.File).Str(p.SHA256)
	}
	return fp.ShortHex()
}

// VerifyPatchHash checks the patch file content against its declared hash.
func VerifyPatchHash(path, want string) error {
	got, err := hashutil.SHA256File(path)
	if err != nil {
		return err
	}
	if got != want {
		return diag.New("patch %s hash mismatch", path).
			WithContext("declared %s", want).
			WithContext("computed %s", got).
			WithSuggestion("the registry shim may be corrupted; run `harbour update`")
	}
	return nil
}
