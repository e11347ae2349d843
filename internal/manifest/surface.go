package manifest

import (
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/xerrors"
)

// Surface is the contract of what a target exports to dependents versus
// what it uses internally. Public sections propagate; private ones apply
// only to the target's own translation units.
type Surface struct {
	Compile      CompileSurface `toml:"compile"`
	Link         LinkSurface    `toml:"link"`
	Abi          AbiToggles     `toml:"abi"`
	Conditionals []Conditional  `toml:"when"`
}

// CompileSurface splits compile requirements by visibility.
type CompileSurface struct {
	Public  CompileReqs `toml:"public"`
	Private CompileReqs `toml:"private"`

	// RequiresCpp is the minimum C++ standard demanded by the public API.
	// Dependents must compile with at least this standard.
	RequiresCpp CppStd `toml:"requires_cpp,omitempty"`
}

// CompileReqs are compile-time requirements.
type CompileReqs struct {
	IncludeDirs []string `toml:"include_dirs"`
	Defines     []Define `toml:"defines"`
	Cflags      []string `toml:"cflags"`
}

// Merge appends other's requirements, preserving order.
func (c *CompileReqs) Merge(other CompileReqs) {
	c.IncludeDirs = append(c.IncludeDirs, other.IncludeDirs...)
	c.Defines = append(c.Defines, other.Defines...)
	c.Cflags = append(c.Cflags, other.Cflags...)
}

// IsEmpty reports whether all fields are empty.
func (c *CompileReqs) IsEmpty() bool {
	return len(c.IncludeDirs) == 0 && len(c.Defines) == 0 && len(c.Cflags) == 0
}

// Define is a preprocessor define. Manifests accept either the string form
// "FOO" / "FOO=1" or the table form { name = "FOO", value = "1" }; both
// render identically.
type Define struct {
	Name  string
	Value string // empty means flag-only
}

// ParseDefine splits the "NAME=VALUE" string form.
func ParseDefine(s string) Define {
	name, value, _ := strings.Cut(s, "=")
	return Define{Name: name, Value: value}
}

// Flag renders the define with the given prefix ("-D" or "/D").
func (d Define) Flag(prefix string) string {
	if d.Value == "" {
		return prefix + d.Name
	}
	return prefix + d.Name + "=" + d.Value
}

// String renders the canonical NAME or NAME=VALUE form.
func (d Define) String() string {
	if d.Value == "" {
		return d.Name
	}
	return d.Name + "=" + d.Value
}

// UnmarshalTOML accepts "FOO=1" strings and {name, value} tables.
func (d *Define) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*d = ParseDefine(v)
		return nil
	case map[string]interface{}:
		name, _ := v["name"].(string)
		if name == "" {
			return xerrors.New("define table requires a name")
		}
		value, _ := v["value"].(string)
		*d = Define{Name: name, Value: value}
		return nil
	default:
		return xerrors.Errorf("define must be a string or table, got %T", data)
	}
}

// LinkSurface splits link requirements by visibility.
type LinkSurface struct {
	Public  LinkReqs `toml:"public"`
	Private LinkReqs `toml:"private"`
}

// LinkReqs are link-time requirements. Order is preserved end to end
// because link order is functional.
type LinkReqs struct {
	Libs       []LibRef    `toml:"libs"`
	Ldflags    []string    `toml:"ldflags"`
	Frameworks []string    `toml:"frameworks"`
	Groups     []LinkGroup `toml:"groups"`
}

// Merge appends other's requirements, preserving order.
func (l *LinkReqs) Merge(other LinkReqs) {
	l.Libs = append(l.Libs, other.Libs...)
	l.Ldflags = append(l.Ldflags, other.Ldflags...)
	l.Frameworks = append(l.Frameworks, other.Frameworks...)
	l.Groups = append(l.Groups, other.Groups...)
}

// IsEmpty reports whether all fields are empty.
func (l *LinkReqs) IsEmpty() bool {
	return len(l.Libs) == 0 && len(l.Ldflags) == 0 && len(l.Frameworks) == 0 && len(l.Groups) == 0
}

// LibRefKind tags the flavor of a library reference.
type LibRefKind int

const (
	// LibSystem links by name (-lX).
	LibSystem LibRefKind = iota
	// LibFramework is a macOS framework.
	LibFramework
	// LibPath is an absolute or vendored library file.
	LibPath
	// LibPackage refers to another package's built target; resolved
	// during planning.
	LibPackage
)

// LibRef names a library to link. Manifests accept string shorthand
// ("m", "-lm", "-framework Security") or tables with an explicit kind.
type LibRef struct {
	Kind LibRefKind

	// Name of the system library or framework.
	Name string

	// Path of a vendored library file (LibPath).
	Path string

	// Package/Target for LibPackage references.
	Package string
	Target  string
}

// SystemLib returns a -lname reference.
func SystemLib(name string) LibRef { return LibRef{Kind: LibSystem, Name: name} }

// FrameworkLib returns a macOS framework reference.
func FrameworkLib(name string) LibRef { return LibRef{Kind: LibFramework, Name: name} }

// PathLib returns a library-file reference.
func PathLib(path string) LibRef { return LibRef{Kind: LibPath, Path: path} }

// PackageLib returns a reference to another package's target.
func PackageLib(pkg, target string) LibRef {
	return LibRef{Kind: LibPackage, Package: pkg, Target: target}
}

// ParseLibShorthand interprets the string forms: a bare name is a system
// library; "-lX" is a system library; "-framework X" is a framework.
func ParseLibShorthand(s string) LibRef {
	s = strings.TrimSpace(s)
	if name, ok := strings.CutPrefix(s, "-l"); ok {
		return SystemLib(name)
	}
	if rest, ok := strings.CutPrefix(s, "-framework"); ok {
		return FrameworkLib(strings.TrimSpace(rest))
	}
	return SystemLib(s)
}

// Flags renders the linker arguments for this reference. Package references
// render nothing here; the planner substitutes the built artifact.
func (l LibRef) Flags() []string {
	switch l.Kind {
	case LibSystem:
		return []string{"-l" + l.Name}
	case LibFramework:
		return []string{"-framework", l.Name}
	case LibPath:
		return []string{l.Path}
	default:
		return nil
	}
}

// UnmarshalTOML accepts shorthand strings and {kind = ...} tables.
func (l *LibRef) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*l = ParseLibShorthand(v)
		return nil
	case map[string]interface{}:
		kind, _ := v["kind"].(string)
		switch kind {
		case "system":
			name, _ := v["name"].(string)
			*l = SystemLib(name)
		case "framework":
			name, _ := v["name"].(string)
			*l = FrameworkLib(name)
		case "path":
			path, _ := v["path"].(string)
			*l = PathLib(path)
		case "package":
			pkg, _ := v["name"].(string)
			target, _ := v["target"].(string)
			*l = PackageLib(pkg, target)
		default:
			return xerrors.Errorf("unknown library kind %q", kind)
		}
		return nil
	default:
		return xerrors.Errorf("library reference must be a string or table, got %T", data)
	}
}

// LinkGroupKind tags a link-ordering group.
type LinkGroupKind string

const (
	// WholeArchive wraps libs in --whole-archive / --no-whole-archive.
	WholeArchive LinkGroupKind = "whole_archive"
	// StartEndGroup wraps libs in --start-group / --end-group.
	StartEndGroup LinkGroupKind = "start_end_group"
)

// LinkGroup controls link ordering for a set of libraries. Parsed on all
// platforms and emitted verbatim; parsing logs a warning for every target
// that declares groups, on every platform.
type LinkGroup struct {
	Kind LinkGroupKind `toml:"kind"`
	Libs []string      `toml:"libs"`
}

// AbiToggles are ABI-relevant settings that feed the artifact cache key.
type AbiToggles struct {
	Toggles []string `toml:"toggles"`
}

// Common toggle names.
const (
	TogglePIC        = "pic"
	ToggleVisibility = "visibility"
	ToggleCRT        = "crt"
	ToggleStdlib     = "stdlib"
)

// Has reports whether the toggle is present.
func (a AbiToggles) Has(toggle string) bool {
	for _, t := range a.Toggles {
		if t == toggle {
			return true
		}
	}
	return false
}

// PlatformCondition guards a conditional surface patch. Absent fields match
// anything; present fields must all match (short-circuit AND).
type PlatformCondition struct {
	OS       string `toml:"os,omitempty"`
	Arch     string `toml:"arch,omitempty"`
	Env      string `toml:"env,omitempty"`
	Compiler string `toml:"compiler,omitempty"`
}

// Matches evaluates the condition against a platform.
func (c PlatformCondition) Matches(p TargetPlatform) bool {
	if c.OS != "" && c.OS != p.OS {
		return false
	}
	if c.Arch != "" && c.Arch != p.Arch {
		return false
	}
	if c.Env != "" && c.Env != p.Env {
		return false
	}
	if c.Compiler != "" && c.Compiler != p.Compiler {
		return false
	}
	return true
}

// Conditional is a platform-guarded partial surface patch, merged into the
// public sections when the condition matches.
type Conditional struct {
	PlatformCondition

	Compile struct {
		Public CompileReqs `toml:"public"`
	} `toml:"compile"`
	Link struct {
		Public LinkReqs `toml:"public"`
	} `toml:"link"`
}

// TargetPlatform describes the platform a build targets, used to evaluate
// surface conditionals.
type TargetPlatform struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // "amd64", "arm64"
	Env      string // "gnu", "musl", "msvc"; may be empty
	Compiler string // compiler family; may be empty
}

// HostPlatform detects the platform harbour itself runs on.
func HostPlatform() TargetPlatform {
	return TargetPlatform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// WithCompiler returns a copy with the compiler family set.
func (p TargetPlatform) WithCompiler(family string) TargetPlatform {
	p.Compiler = family
	return p
}

// ResolvedSurface is a Surface with matching conditionals folded into the
// public sections.
type ResolvedSurface struct {
	CompilePublic  CompileReqs
	CompilePrivate CompileReqs
	LinkPublic     LinkReqs
	LinkPrivate    LinkReqs
	Abi            AbiToggles
	RequiresCpp    CppStd
}

// Resolve applies platform conditionals and returns the effective surface.
func (s *Surface) Resolve(platform TargetPlatform) ResolvedSurface {
	compilePublic := s.Compile.Public
	linkPublic := s.Link.Public

	// copy before merging so repeated resolves do not accumulate
	compilePublic.IncludeDirs = append([]string(nil), compilePublic.IncludeDirs...)
	compilePublic.Defines = append([]Define(nil), compilePublic.Defines...)
	compilePublic.Cflags = append([]string(nil), compilePublic.Cflags...)
	linkPublic.Libs = append([]LibRef(nil), linkPublic.Libs...)
	linkPublic.Ldflags = append([]string(nil), linkPublic.Ldflags...)
	linkPublic.Frameworks = append([]string(nil), linkPublic.Frameworks...)
	linkPublic.Groups = append([]LinkGroup(nil), linkPublic.Groups...)

	for _, cond := range s.Conditionals {
		if cond.Matches(platform) {
			compilePublic.Merge(cond.Compile.Public)
			linkPublic.Merge(cond.Link.Public)
		}
	}

	return ResolvedSurface{
		CompilePublic:  compilePublic,
		CompilePrivate: s.Compile.Private,
		LinkPublic:     linkPublic,
		LinkPrivate:    s.Link.Private,
		Abi:            s.Abi,
		RequiresCpp:    s.Compile.RequiresCpp,
	}
}

// AbsIncludeDirs returns reqs include dirs made absolute against root.
func AbsIncludeDirs(reqs CompileReqs, root string) []string {
	out := make([]string, 0, len(reqs.IncludeDirs))
	for _, dir := range reqs.IncludeDirs {
		if filepath.IsAbs(dir) {
			out = append(out, dir)
		} else {
			out = append(out, filepath.Join(root, dir))
		}
	}
	return out
}
