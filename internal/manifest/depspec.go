package manifest

import (
	"path/filepath"
	"regexp"

	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
)

// DefaultRegistryURL is the registry used for bare-version dependencies.
const DefaultRegistryURL = "https://github.com/harbourpkg/registry"

var registryNameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateRegistryName enforces the lowercase name rule for registry
// dependencies.
func ValidateRegistryName(name string) error {
	if !registryNameRe.MatchString(name) {
		return diag.New("invalid registry package name %q", name).
			WithContext("registry names must match [a-z0-9_-]+").
			WithSuggestion("rename the dependency or use a path/git source")
	}
	return nil
}

// DependencySpec is a dependency as written in the manifest: either a bare
// version string (registry with the default registry URL) or a detailed
// table.
type DependencySpec struct {
	// Version requirement string; set for both forms.
	Version string `toml:"version"`

	Path string `toml:"path"`

	Git    string `toml:"git"`
	Branch string `toml:"branch"`
	Tag    string `toml:"tag"`
	Rev    string `toml:"rev"`

	Registry string `toml:"registry"`

	Vcpkg    string   `toml:"vcpkg"` // vcpkg port name
	Triplet  string   `toml:"triplet"`
	Optional bool     `toml:"optional"`
	Features []string `toml:"features"`

	DefaultFeatures *bool `toml:"default_features"`

	// Workspace adopts the workspace-level shared dependency of the
	// same name.
	Workspace bool `toml:"workspace"`

	// simple is true when the spec was written as a bare version string.
	simple bool
}

// IsSimple reports whether the spec was a bare version string.
func (s *DependencySpec) IsSimple() bool { return s.simple }

// UnmarshalTOML accepts `dep = "1.0"` and detailed tables.
func (s *DependencySpec) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*s = DependencySpec{Version: v, simple: true}
		return nil
	case map[string]interface{}:
		out := DependencySpec{}
		strField := func(key string) string {
			val, _ := v[key].(string)
			return val
		}
		out.Version = strField("version")
		out.Path = strField("path")
		out.Git = strField("git")
		out.Branch = strField("branch")
		out.Tag = strField("tag")
		out.Rev = strField("rev")
		out.Registry = strField("registry")
		out.Vcpkg = strField("vcpkg")
		out.Triplet = strField("triplet")
		if b, ok := v["optional"].(bool); ok {
			out.Optional = b
		}
		if b, ok := v["workspace"].(bool); ok {
			out.Workspace = b
		}
		if b, ok := v["default_features"].(bool); ok {
			out.DefaultFeatures = &b
		}
		if raw, ok := v["features"].([]interface{}); ok {
			for _, f := range raw {
				if fs, ok := f.(string); ok {
					out.Features = append(out.Features, fs)
				}
			}
		}
		*s = out
		return nil
	default:
		return xerrors.Errorf("dependency must be a version string or table, got %T", data)
	}
}

// validate checks the structural rules: a source must be named, path and
// git are mutually exclusive, and git carries at most one reference.
func (s *DependencySpec) validate(name string) error {
	if s.Workspace {
		// resolved against workspace deps before conversion
		return nil
	}
	if s.Path == "" && s.Git == "" && s.Registry == "" && s.Version == "" && s.Vcpkg == "" {
		return diag.New("dependency %q must specify path, git, registry, vcpkg, or version", name)
	}
	if s.Path != "" && s.Git != "" {
		return diag.New("dependency %q specifies both path and git", name).
			WithSuggestion("pick one source; path wins for local development, git for pinning")
	}
	refs := 0
	for _, r := range []string{s.Branch, s.Tag, s.Rev} {
		if r != "" {
			refs++
		}
	}
	if refs > 1 {
		return diag.New("dependency %q may carry only one of branch, tag, rev", name)
	}
	if refs > 0 && s.Git == "" {
		return diag.New("dependency %q sets a git reference without a git url", name)
	}
	return nil
}

// ToDependency converts the spec to a core.Dependency. Relative paths are
// resolved against manifestDir.
func (s *DependencySpec) ToDependency(name, manifestDir string) (core.Dependency, error) {
	if err := s.validate(name); err != nil {
		return core.Dependency{}, err
	}

	var (
		source core.SourceId
		err    error
	)
	switch {
	case s.Path != "":
		p := s.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(manifestDir, p)
		}
		source, err = core.ForPath(p)
	case s.Git != "":
		ref := core.GitReference{}
		switch {
		case s.Branch != "":
			ref = core.GitReference{Kind: core.GitRefBranch, Value: s.Branch}
		case s.Tag != "":
			ref = core.GitReference{Kind: core.GitRefTag, Value: s.Tag}
		case s.Rev != "":
			ref = core.GitReference{Kind: core.GitRefRev, Value: s.Rev}
		}
		source, err = core.ForGit(s.Git, ref)
	case s.Vcpkg != "":
		source = core.ForVcpkg(s.Vcpkg, s.Triplet, s.Features)
	default:
		// explicit registry url, or version-only implies the default
		if err := ValidateRegistryName(name); err != nil {
			return core.Dependency{}, err
		}
		url := s.Registry
		if url == "" {
			url = DefaultRegistryURL
		}
		source, err = core.ForRegistry(url)
	}
	if err != nil {
		return core.Dependency{}, err
	}

	dep := core.NewDependency(name, source)
	if s.Version != "" {
		dep, err = dep.WithVersionReq(s.Version)
		if err != nil {
			return core.Dependency{}, err
		}
	}
	dep = dep.WithOptional(s.Optional).WithFeatures(s.Features)
	if s.DefaultFeatures != nil {
		dep = dep.WithDefaultFeatures(*s.DefaultFeatures)
	}
	return dep, nil
}
