package manifest

import (
	"sort"

	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/core"
)

// Package is a loaded manifest rooted at a canonical directory, carrying
// its interned identity.
type Package struct {
	Manifest *Manifest
	Root     string
	ID       core.PackageId
}

// NewPackage builds a Package whose SourceId is the package root itself.
func NewPackage(m *Manifest, root string) (*Package, error) {
	source, err := core.ForPath(root)
	if err != nil {
		return nil, err
	}
	return NewPackageWithSource(m, root, source)
}

// NewPackageWithSource builds a Package drawn from an explicit source
// (git checkout, registry fetch, vcpkg install).
func NewPackageWithSource(m *Manifest, root string, source core.SourceId) (*Package, error) {
	if m.Package == nil {
		return nil, xerrors.Errorf("manifest at %s is a virtual workspace, not a package", root)
	}
	version, err := m.Package.SemVersion()
	if err != nil {
		return nil, err
	}
	return &Package{
		Manifest: m,
		Root:     root,
		ID:       core.NewPackageId(m.Package.Name, version, source),
	}, nil
}

// Name returns the package name.
func (p *Package) Name() string { return p.ID.Name() }

// Dependencies converts the manifest dependency specs, in sorted name
// order for determinism.
func (p *Package) Dependencies() ([]core.Dependency, error) {
	names := make([]string, 0, len(p.Manifest.Dependencies))
	for name := range p.Manifest.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := make([]core.Dependency, 0, len(names))
	for _, name := range names {
		spec := p.Manifest.Dependencies[name]
		dep, err := spec.ToDependency(name, p.Manifest.Dir)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// Summary returns the lightweight resolution view of the package.
func (p *Package) Summary() (core.Summary, error) {
	deps, err := p.Dependencies()
	if err != nil {
		return core.Summary{}, err
	}
	return core.NewSummary(p.ID, deps, ""), nil
}

// DefaultTarget returns the propagating target of the package.
func (p *Package) DefaultTarget() *Target { return p.Manifest.DefaultTarget() }

// Targets returns all targets.
func (p *Package) Targets() []Target { return p.Manifest.Targets }
