// Package lockfile encodes a Resolve to the canonical on-disk Harbour.lock
// and back, and answers workspace freshness checks via the recorded
// root manifest hash.
package lockfile

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/resolver"
	"github.com/harbourpkg/harbour/internal/workspace"
)

// Version is the supported lockfile format version.
const Version = 1

const header = "# This file is automatically generated by Harbour.\n# It is not intended for manual editing.\n\n"

// MemberHash records one workspace member's manifest hash.
type MemberHash struct {
	Path string `toml:"path"`
	Hash string `toml:"hash"`
}

// Package is one locked package entry.
type Package struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Source   string `toml:"source"`
	Checksum string `toml:"checksum,omitempty"`

	// Dependencies are "<name> <version>" pairs.
	Dependencies []string `toml:"dependencies,omitempty"`

	RegistryProvenance *core.RegistryProvenance `toml:"registry_provenance,omitempty"`
	VcpkgProvenance    *core.VcpkgProvenance    `toml:"vcpkg_provenance,omitempty"`
}

// File is the lockfile document.
type File struct {
	Version          int          `toml:"version"`
	RootManifestHash string       `toml:"root_manifest_hash,omitempty"`
	MemberHashes     []MemberHash `toml:"member_manifest_hashes,omitempty"`
	Packages         []Package    `toml:"package,omitempty"`
}

// FromResolve encodes a Resolve, sorted by (name, version) for
// deterministic diffs.
func FromResolve(r *resolver.Resolve) *File {
	var packages []Package
	for _, id := range r.Packages() {
		summary, _ := r.Summary(id)

		var deps []string
		for _, dep := range summary.Dependencies() {
			if dep.IsOptional() {
				continue
			}
			// git deps resolve to a precise-pinned source, so the exact
			// (name, source) lookup can miss; fall back to the name
			target, ok := r.GetPackage(dep.Name(), dep.SourceID())
			if !ok {
				target, ok = r.GetPackageByName(dep.Name())
			}
			if ok {
				deps = append(deps, fmt.Sprintf("%s %s", target.Name(), target.Version()))
			}
		}
		sort.Strings(deps)

		entry := Package{
			Name:         id.Name(),
			Version:      id.Version().String(),
			Source:       id.SourceID().ToURLString(),
			Checksum:     r.Checksum(id),
			Dependencies: deps,
		}
		if prov, ok := r.RegistryProvenance(id); ok {
			p := prov
			entry.RegistryProvenance = &p
		}
		if prov, ok := r.VcpkgProvenance(id); ok {
			p := prov
			entry.VcpkgProvenance = &p
		}
		packages = append(packages, entry)
	}

	sort.Slice(packages, func(i, j int) bool {
		if packages[i].Name != packages[j].Name {
			return packages[i].Name < packages[j].Name
		}
		vi, erri := semver.NewVersion(packages[i].Version)
		vj, errj := semver.NewVersion(packages[j].Version)
		if erri == nil && errj == nil {
			return vi.LessThan(vj)
		}
		return packages[i].Version < packages[j].Version
	})

	return &File{Version: Version, Packages: packages}
}

// WithRootHash records the workspace freshness hash.
func (f *File) WithRootHash(hash string) *File {
	f.RootManifestHash = hash
	return f
}

// WithMemberHashes records the per-member manifest hashes.
func (f *File) WithMemberHashes(hashes []MemberHash) *File {
	f.MemberHashes = hashes
	return f
}

// ToResolve reconstructs the Resolve. The summaries carry no dependency
// specs (those live in the manifests); edges come from the recorded
// dependency lists.
func (f *File) ToResolve() (*resolver.Resolve, error) {
	if f.Version != Version {
		return nil, diag.New("lockfile version %d is not supported by this harbour", f.Version).
			WithSuggestion("run `harbour update` to regenerate the lockfile")
	}

	r := resolver.NewResolve()
	ids := map[string]core.PackageId{}

	for _, p := range f.Packages {
		source, err := core.ParseSourceId(p.Source)
		if err != nil {
			return nil, diag.New("lockfile entry %q has malformed source", p.Name).WithCause(err)
		}
		version, err := semver.NewVersion(p.Version)
		if err != nil {
			return nil, diag.New("lockfile entry %q has malformed version %q", p.Name, p.Version)
		}
		id := core.NewPackageId(p.Name, version, source)
		ids[fmt.Sprintf("%s %s", p.Name, p.Version)] = id
		r.AddPackage(id, core.NewSummary(id, nil, p.Checksum))
		if p.RegistryProvenance != nil {
			r.SetRegistryProvenance(id, *p.RegistryProvenance)
		}
		if p.VcpkgProvenance != nil {
			r.SetVcpkgProvenance(id, *p.VcpkgProvenance)
		}
	}

	for _, p := range f.Packages {
		from := ids[fmt.Sprintf("%s %s", p.Name, p.Version)]
		for _, depStr := range p.Dependencies {
			if to, ok := ids[depStr]; ok {
				r.AddEdge(from, to)
			}
		}
	}

	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads and parses a lockfile. A missing file yields (nil, nil).
func Load(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("read lockfile: %w", err)
	}
	var f File
	if err := toml.Unmarshal(content, &f); err != nil {
		return nil, diag.New("malformed lockfile at %s", path).WithCause(err).
			WithSuggestion("delete the lockfile and run `harbour update`")
	}
	return &f, nil
}

// Save writes the lockfile atomically (whole-file replace).
func (f *File) Save(path string) error {
	var buf bytes.Buffer
	buf.WriteString(header)
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return xerrors.Errorf("encode lockfile: %w", err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return xerrors.Errorf("write lockfile: %w", err)
	}
	return nil
}

// SaveWorkspace encodes the resolve with the workspace hash and member
// hashes and writes it to the workspace lockfile.
func SaveWorkspace(ws *workspace.Workspace, r *resolver.Resolve) error {
	hash, err := ws.Hash()
	if err != nil {
		return err
	}
	f := FromResolve(r).WithRootHash(hash)

	var members []MemberHash
	for _, m := range ws.Members() {
		h, err := workspace.ManifestHash(m.Package.Manifest)
		if err != nil {
			return err
		}
		members = append(members, MemberHash{Path: m.RelPath, Hash: h})
	}
	f = f.WithMemberHashes(members)

	return f.Save(ws.LockfilePath())
}

// IsFresh reports whether the on-disk lockfile matches the workspace's
// current resolution-affecting content. A missing or hash-less lockfile
// is stale.
func IsFresh(ws *workspace.Workspace) (bool, *File, error) {
	f, err := Load(ws.LockfilePath())
	if err != nil {
		return false, nil, err
	}
	if f == nil || f.RootManifestHash == "" {
		return false, f, nil
	}
	current, err := ws.Hash()
	if err != nil {
		return false, f, err
	}
	return f.RootManifestHash == current, f, nil
}
