package source

import (
	"os"

	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// PathSource serves dependencies declared with a local path. One instance
// handles every path dependency; packages are keyed by their SourceId.
type PathSource struct {
	packages map[core.SourceId]*manifest.Package
}

// NewPathSource creates the path source.
func NewPathSource() *PathSource {
	return &PathSource{packages: map[core.SourceId]*manifest.Package{}}
}

func (s *PathSource) Name() string { return "path" }

func (s *PathSource) Supports(dep core.Dependency) bool {
	return dep.SourceID().IsPath()
}

func (s *PathSource) EnsureReady() error { return nil }

func (s *PathSource) load(source core.SourceId) (*manifest.Package, error) {
	if pkg, ok := s.packages[source]; ok {
		return pkg, nil
	}

	dir := source.LocalPath()
	if _, err := os.Stat(dir); err != nil {
		return nil, diag.New("path dependency directory does not exist: %s", source.Path()).
			WithSuggestion("fix the path in the manifest or fetch the missing directory")
	}
	manifestPath := manifest.LocateIn(dir)
	if manifestPath == "" {
		return nil, diag.New("no %s in path dependency %s", manifest.Filename, source.Path())
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	pkg, err := manifest.NewPackageWithSource(m, dir, source)
	if err != nil {
		return nil, err
	}
	s.packages[source] = pkg
	return pkg, nil
}

// Query reads the manifest at the declared path; it returns exactly one
// summary when the name and version requirement match.
func (s *PathSource) Query(dep core.Dependency) ([]core.Summary, error) {
	pkg, err := s.load(dep.SourceID())
	if err != nil {
		return nil, err
	}
	if pkg.Name() != dep.Name() {
		return nil, diag.New("path dependency %q resolves to package %q at %s",
			dep.Name(), pkg.Name(), dep.SourceID().Path())
	}
	if !dep.MatchesVersion(pkg.ID.Version()) {
		return nil, nil
	}
	summary, err := pkg.Summary()
	if err != nil {
		return nil, err
	}
	return []core.Summary{summary}, nil
}

func (s *PathSource) LoadPackage(id core.PackageId) (*manifest.Package, error) {
	return s.load(id.SourceID())
}

func (s *PathSource) PackagePath(id core.PackageId) (string, error) {
	return id.SourceID().LocalPath(), nil
}

func (s *PathSource) IsCached(id core.PackageId) bool {
	_, err := os.Stat(id.SourceID().LocalPath())
	return err == nil
}
