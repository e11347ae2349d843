package core

import "github.com/Masterminds/semver/v3"

// Summary is the lightweight view of a package used during resolution:
// its identity, dependency list, optional checksum, and feature table.
// Summaries are cheap to copy; the full Package is only loaded when the
// builder needs surfaces and sources.
type Summary struct {
	id       PackageId
	deps     []Dependency
	checksum string
	features map[string][]string
}

// NewSummary creates a summary.
func NewSummary(id PackageId, deps []Dependency, checksum string) Summary {
	return Summary{id: id, deps: deps, checksum: checksum}
}

// WithFeatures attaches the feature table.
func (s Summary) WithFeatures(features map[string][]string) Summary {
	s.features = features
	return s
}

// PackageID returns the package identity.
func (s Summary) PackageID() PackageId { return s.id }

// Name returns the package name.
func (s Summary) Name() string { return s.id.Name() }

// Version returns the exact version.
func (s Summary) Version() *semver.Version { return s.id.Version() }

// SourceID returns the package source.
func (s Summary) SourceID() SourceId { return s.id.SourceID() }

// Dependencies returns the declared dependencies.
func (s Summary) Dependencies() []Dependency { return s.deps }

// Checksum returns the content checksum, or "".
func (s Summary) Checksum() string { return s.checksum }

// Features returns the feature table, which may be nil.
func (s Summary) Features() map[string][]string { return s.features }
