package source

import (
	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// Cache is the façade over all sources: it routes each dependency to the
// first source whose Supports reports true. It is owned by the driver and
// never shared across goroutines.
type Cache struct {
	sources []Source

	// loaded memoizes packages by id so repeated loads during surface
	// resolution and planning stay cheap.
	loaded map[core.PackageId]*manifest.Package
}

// NewCache creates a cache over the given sources, in routing order.
func NewCache(sources ...Source) *Cache {
	return &Cache{
		sources: sources,
		loaded:  map[core.PackageId]*manifest.Package{},
	}
}

// Add appends a source to the routing list.
func (c *Cache) Add(s Source) { c.sources = append(c.sources, s) }

// forDep returns the source serving dep.
func (c *Cache) forDep(dep core.Dependency) (Source, error) {
	for _, s := range c.sources {
		if s.Supports(dep) {
			return s, nil
		}
	}
	return nil, diag.New("no source can provide dependency %q from %s", dep.Name(), dep.SourceID()).
		WithSuggestion("check the dependency's source specification")
}

// forID returns the source serving a resolved package id.
func (c *Cache) forID(id core.PackageId) (Source, error) {
	dep := core.NewDependency(id.Name(), id.SourceID())
	return c.forDep(dep)
}

// Query returns the candidate summaries for dep.
func (c *Cache) Query(dep core.Dependency) ([]core.Summary, error) {
	s, err := c.forDep(dep)
	if err != nil {
		return nil, err
	}
	return s.Query(dep)
}

// EnsureReady readies the source behind dep.
func (c *Cache) EnsureReady(dep core.Dependency) error {
	s, err := c.forDep(dep)
	if err != nil {
		return err
	}
	return s.EnsureReady()
}

// LoadPackage materializes and loads the package for id, memoized.
func (c *Cache) LoadPackage(id core.PackageId) (*manifest.Package, error) {
	if pkg, ok := c.loaded[id]; ok {
		return pkg, nil
	}
	s, err := c.forID(id)
	if err != nil {
		return nil, err
	}
	pkg, err := s.LoadPackage(id)
	if err != nil {
		return nil, err
	}
	c.loaded[id] = pkg
	return pkg, nil
}

// PackagePath returns the on-disk root for id.
func (c *Cache) PackagePath(id core.PackageId) (string, error) {
	s, err := c.forID(id)
	if err != nil {
		return "", err
	}
	return s.PackagePath(id)
}

// IsCached reports whether id is materialized.
func (c *Cache) IsCached(id core.PackageId) bool {
	s, err := c.forID(id)
	if err != nil {
		return false
	}
	return s.IsCached(id)
}
