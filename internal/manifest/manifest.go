// Package manifest parses Harbour.toml files into the declarative model:
// packages, targets, surfaces, dependencies, profiles, and build config.
package manifest

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/diag"
)

// Filename is the canonical manifest filename.
const Filename = "Harbour.toml"

// FilenameAlias is the accepted alternative spelling.
const FilenameAlias = "Harbor.toml"

// LocateIn returns the manifest path inside dir, preferring the canonical
// name, or "" when neither exists.
func LocateIn(dir string) string {
	for _, name := range []string{Filename, FilenameAlias} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// PackageMeta is the [package] section.
type PackageMeta struct {
	Name          string   `toml:"name"`
	Version       string   `toml:"version"`
	Description   string   `toml:"description"`
	License       string   `toml:"license"`
	Authors       []string `toml:"authors"`
	Repository    string   `toml:"repository"`
	Homepage      string   `toml:"homepage"`
	Documentation string   `toml:"documentation"`
	Keywords      []string `toml:"keywords"`
	Categories    []string `toml:"categories"`
}

// SemVersion parses the declared version.
func (p *PackageMeta) SemVersion() (*semver.Version, error) {
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, diag.New("invalid package version %q for %q", p.Version, p.Name).
			WithSuggestion("use a semantic version like \"1.2.3\"")
	}
	return v, nil
}

// WorkspaceConfig is the [workspace] section.
type WorkspaceConfig struct {
	Members        []string                  `toml:"members"`
	Exclude        []string                  `toml:"exclude"`
	DefaultMembers []string                  `toml:"default-members"`
	Dependencies   map[string]DependencySpec `toml:"dependencies"`
}

// Profile is one [profile.<name>] section. Nil pointer fields mean
// "inherit the default".
type Profile struct {
	OptLevel   *string  `toml:"opt_level"`
	Debug      *string  `toml:"debug"`
	Lto        *bool    `toml:"lto"`
	Sanitizers []string `toml:"sanitizers"`
	Cflags     []string `toml:"cflags"`
	Ldflags    []string `toml:"ldflags"`
}

func strp(s string) *string { return &s }

// merge overlays custom onto p field-wise; explicit wins, empty lists
// retain the default.
func (p *Profile) merge(custom Profile) {
	if custom.OptLevel != nil {
		p.OptLevel = custom.OptLevel
	}
	if custom.Debug != nil {
		p.Debug = custom.Debug
	}
	if custom.Lto != nil {
		p.Lto = custom.Lto
	}
	if len(custom.Sanitizers) > 0 {
		p.Sanitizers = custom.Sanitizers
	}
	if len(custom.Cflags) > 0 {
		p.Cflags = custom.Cflags
	}
	if len(custom.Ldflags) > 0 {
		p.Ldflags = custom.Ldflags
	}
}

// BuildConfig is the manifest [build] section: graph-wide C++ settings.
type BuildConfig struct {
	CppStd      CppStd      `toml:"cpp_std"`
	CppRuntime  CppRuntime  `toml:"cpp_runtime"`
	MsvcRuntime MsvcRuntime `toml:"msvc_runtime"`
	Exceptions  *bool       `toml:"exceptions"`
	RTTI        *bool       `toml:"rtti"`
}

// ExceptionsEnabled returns the effective exceptions flag (default true).
func (b *BuildConfig) ExceptionsEnabled() bool {
	return b.Exceptions == nil || *b.Exceptions
}

// RTTIEnabled returns the effective RTTI flag (default true).
func (b *BuildConfig) RTTIEnabled() bool {
	return b.RTTI == nil || *b.RTTI
}

// Manifest is the parsed Harbour.toml.
type Manifest struct {
	Package      *PackageMeta
	Workspace    *WorkspaceConfig
	Dependencies map[string]DependencySpec
	Targets      []Target
	Profiles     map[string]Profile
	Build        BuildConfig

	// Dir is the directory containing the manifest.
	Dir string
}

type rawTarget struct {
	Kind          *TargetKind              `toml:"kind"`
	Sources       []string                 `toml:"sources"`
	PublicHeaders []string                 `toml:"public_headers"`
	Surface       Surface                  `toml:"surface"`
	Lang          Language                 `toml:"lang"`
	Language      *Language                `toml:"language"` // spelled-out alias
	CStd          CStd                     `toml:"c_std"`
	CppStd        CppStd                   `toml:"cpp_std"`
	Deps          map[string]TargetDepSpec `toml:"deps"`
	Recipe        *Recipe                  `toml:"recipe"`
}

type rawManifest struct {
	Package      *PackageMeta              `toml:"package"`
	Workspace    *WorkspaceConfig          `toml:"workspace"`
	Dependencies map[string]DependencySpec `toml:"dependencies"`
	Targets      map[string]rawTarget      `toml:"targets"`
	Profile      map[string]Profile        `toml:"profile"`
	Build        BuildConfig               `toml:"build"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read manifest: %w", err)
	}
	return Parse(string(content), path)
}

// Parse parses manifest content. path is used for error reporting and to
// anchor the manifest directory.
func Parse(content, path string) (*Manifest, error) {
	var raw rawManifest
	if err := toml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, diag.New("failed to parse %s", path).WithCause(err)
	}

	if raw.Package == nil && raw.Workspace == nil {
		return nil, diag.New("manifest at %s must have a [package] or [workspace] section", path).
			WithSuggestion("add [package] with name and version, or [workspace] with members")
	}

	m := &Manifest{
		Package:      raw.Package,
		Workspace:    raw.Workspace,
		Dependencies: raw.Dependencies,
		Profiles:     raw.Profile,
		Build:        raw.Build,
		Dir:          filepath.Dir(path),
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string]DependencySpec{}
	}
	if m.Profiles == nil {
		m.Profiles = map[string]Profile{}
	}

	// deterministic target order: sorted by name
	names := make([]string, 0, len(raw.Targets))
	for name := range raw.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t, err := convertTarget(name, raw.Targets[name])
		if err != nil {
			return nil, err
		}
		m.Targets = append(m.Targets, t)
	}

	// a package with no declared targets gets a default static library
	// named after itself; virtual workspaces get none
	if len(m.Targets) == 0 && m.Package != nil {
		m.Targets = append(m.Targets, Target{
			Name: m.Package.Name,
			Kind: KindStaticLib,
		})
	}

	if m.Package != nil {
		if _, err := m.Package.SemVersion(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func convertTarget(name string, raw rawTarget) (Target, error) {
	kind := KindStaticLib
	if raw.Kind != nil {
		kind = *raw.Kind
	}
	if raw.Language != nil {
		raw.Lang = *raw.Language
	}

	for _, reqs := range []LinkReqs{raw.Surface.Link.Public, raw.Surface.Link.Private} {
		if len(reqs.Groups) > 0 {
			logrus.Warnf("target %q: link groups are parsed but platform support varies; flags are emitted verbatim", name)
			break
		}
	}

	t := Target{
		Name:          name,
		Kind:          kind,
		Sources:       raw.Sources,
		PublicHeaders: raw.PublicHeaders,
		Surface:       raw.Surface,
		Deps:          raw.Deps,
		Recipe:        raw.Recipe,
		Lang:          raw.Lang,
		CStd:          raw.CStd,
		CppStd:        raw.CppStd,
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// IsVirtualWorkspace reports whether this is a [workspace]-only manifest.
func (m *Manifest) IsVirtualWorkspace() bool {
	return m.Workspace != nil && m.Package == nil
}

// IsWorkspace reports whether the manifest has a [workspace] section.
func (m *Manifest) IsWorkspace() bool { return m.Workspace != nil }

// Name returns the package name; "" for virtual workspaces.
func (m *Manifest) Name() string {
	if m.Package == nil {
		return ""
	}
	return m.Package.Name
}

// Target returns the named target, or nil.
func (m *Manifest) Target(name string) *Target {
	for i := range m.Targets {
		if m.Targets[i].Name == name {
			return &m.Targets[i]
		}
	}
	return nil
}

// DefaultTarget returns the target whose public surface propagates to
// dependents: the first library target, else the first target.
func (m *Manifest) DefaultTarget() *Target {
	for i := range m.Targets {
		if m.Targets[i].Kind.IsLibrary() {
			return &m.Targets[i]
		}
	}
	if len(m.Targets) > 0 {
		return &m.Targets[0]
	}
	return nil
}

// DebugProfile returns the debug profile with defaults applied
// (opt-level 0, debug info 2).
func (m *Manifest) DebugProfile() Profile {
	p := Profile{OptLevel: strp("0"), Debug: strp("2")}
	if custom, ok := m.Profiles["debug"]; ok {
		p.merge(custom)
	}
	return p
}

// ReleaseProfile returns the release profile with defaults applied
// (opt-level 3, no debug info).
func (m *Manifest) ReleaseProfile() Profile {
	p := Profile{OptLevel: strp("3"), Debug: strp("0")}
	if custom, ok := m.Profiles["release"]; ok {
		p.merge(custom)
	}
	return p
}

// ProfileNamed returns the named profile over its defaults. Unknown names
// inherit the debug defaults.
func (m *Manifest) ProfileNamed(name string) Profile {
	switch name {
	case "release":
		return m.ReleaseProfile()
	case "debug", "":
		return m.DebugProfile()
	default:
		p := m.DebugProfile()
		if custom, ok := m.Profiles[name]; ok {
			p.merge(custom)
		}
		return p
	}
}
