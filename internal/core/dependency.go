package core

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/harbourpkg/harbour/internal/str"
)

// Dependency describes what a package requires from another package:
// a name, a version requirement, and the source to draw candidates from.
type Dependency struct {
	name            str.Interned
	req             *semver.Constraints
	reqStr          string
	source          SourceId
	optional        bool
	features        []string
	defaultFeatures bool
}

// NewDependency creates a dependency on name from source with an unbounded
// version requirement.
func NewDependency(name string, source SourceId) Dependency {
	req, _ := semver.NewConstraint("*")
	return Dependency{
		name:            str.Intern(name),
		req:             req,
		reqStr:          "*",
		source:          source,
		defaultFeatures: true,
	}
}

// WithVersionReq sets the version requirement from its string form.
func (d Dependency) WithVersionReq(req string) (Dependency, error) {
	c, err := semver.NewConstraint(req)
	if err != nil {
		return d, fmt.Errorf("invalid version requirement %q for %s: %v", req, d.name, err)
	}
	d.req = c
	d.reqStr = req
	return d, nil
}

// WithOptional marks the dependency optional.
func (d Dependency) WithOptional(optional bool) Dependency {
	d.optional = optional
	return d
}

// WithFeatures sets the features to enable.
func (d Dependency) WithFeatures(features []string) Dependency {
	d.features = features
	return d
}

// WithDefaultFeatures sets whether default features are enabled.
func (d Dependency) WithDefaultFeatures(enabled bool) Dependency {
	d.defaultFeatures = enabled
	return d
}

// Name returns the package name.
func (d Dependency) Name() string { return d.name.Str() }

// InternedName returns the interned name handle.
func (d Dependency) InternedName() str.Interned { return d.name }

// VersionReq returns the version requirement.
func (d Dependency) VersionReq() *semver.Constraints { return d.req }

// VersionReqString returns the requirement as written.
func (d Dependency) VersionReqString() string { return d.reqStr }

// SourceID returns where candidates are drawn from.
func (d Dependency) SourceID() SourceId { return d.source }

// IsOptional reports whether the dependency is optional.
func (d Dependency) IsOptional() bool { return d.optional }

// Features returns the features to enable.
func (d Dependency) Features() []string { return d.features }

// UsesDefaultFeatures reports whether default features are enabled.
func (d Dependency) UsesDefaultFeatures() bool { return d.defaultFeatures }

// MatchesVersion reports whether v satisfies the requirement.
func (d Dependency) MatchesVersion(v *semver.Version) bool {
	return d.req.Check(v)
}

func (d Dependency) String() string {
	if d.reqStr == "*" || d.reqStr == "" {
		return d.name.Str()
	}
	return d.name.Str() + " " + d.reqStr
}
