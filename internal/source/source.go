// Package source materializes dependencies on disk. The Cache routes each
// dependency to the first Source that supports it; path and git sources
// live here, the registry and vcpkg sources plug in from their own
// packages.
package source

import (
	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// Source is the capability set every package source implements.
type Source interface {
	// Name identifies the source kind in logs and errors.
	Name() string

	// Supports reports whether this source can serve the dependency.
	Supports(dep core.Dependency) bool

	// Query returns every available version of the dependency's package
	// that satisfies its version requirement. An empty result is not an
	// error; the caller interprets it.
	Query(dep core.Dependency) ([]core.Summary, error)

	// EnsureReady clones or updates the backing store.
	EnsureReady() error

	// LoadPackage materializes and loads the full package.
	LoadPackage(id core.PackageId) (*manifest.Package, error)

	// PackagePath returns the on-disk root of a materialized package.
	PackagePath(id core.PackageId) (string, error)

	// IsCached reports whether the package is already materialized.
	IsCached(id core.PackageId) bool
}
