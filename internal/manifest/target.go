package manifest

import (
	"strings"

	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/diag"
)

// TargetKind is the artifact class a target produces.
type TargetKind int

const (
	KindExe TargetKind = iota
	KindStaticLib
	KindSharedLib
	KindHeaderOnly
)

func (k TargetKind) String() string {
	switch k {
	case KindExe:
		return "exe"
	case KindStaticLib:
		return "staticlib"
	case KindSharedLib:
		return "sharedlib"
	case KindHeaderOnly:
		return "headeronly"
	}
	return "unknown"
}

// UnmarshalTOML accepts the canonical names plus the aliases accepted in
// manifests (bin, lib, static, dylib, dynamic, header-only, interface).
func (k *TargetKind) UnmarshalTOML(data interface{}) error {
	s, ok := data.(string)
	if !ok {
		return xerrors.Errorf("target kind must be a string, got %T", data)
	}
	switch strings.ToLower(s) {
	case "exe", "bin":
		*k = KindExe
	case "staticlib", "static-lib", "lib", "static":
		*k = KindStaticLib
	case "sharedlib", "shared-lib", "dylib", "dynamic":
		*k = KindSharedLib
	case "headeronly", "header-only", "interface":
		*k = KindHeaderOnly
	default:
		return xerrors.Errorf("unknown target kind %q", s)
	}
	return nil
}

// Extension returns the conventional file extension on the given OS.
func (k TargetKind) Extension(os string) string {
	switch k {
	case KindExe:
		if os == "windows" {
			return "exe"
		}
		return ""
	case KindStaticLib:
		if os == "windows" {
			return "lib"
		}
		return "a"
	case KindSharedLib:
		switch os {
		case "windows":
			return "dll"
		case "darwin":
			return "dylib"
		default:
			return "so"
		}
	}
	return ""
}

// Prefix returns the conventional file prefix on the given OS.
func (k TargetKind) Prefix(os string) string {
	switch k {
	case KindStaticLib, KindSharedLib:
		if os == "windows" {
			return ""
		}
		return "lib"
	}
	return ""
}

// OutputFilename composes the artifact filename for a target name.
func (k TargetKind) OutputFilename(name, os string) string {
	ext := k.Extension(os)
	if ext == "" {
		return k.Prefix(os) + name
	}
	return k.Prefix(os) + name + "." + ext
}

// IsLibrary reports whether the kind is any library flavor.
func (k TargetKind) IsLibrary() bool {
	return k == KindStaticLib || k == KindSharedLib || k == KindHeaderOnly
}

// IsLinkable reports whether the kind produces a linkable artifact.
func (k TargetKind) IsLinkable() bool {
	return k == KindStaticLib || k == KindSharedLib
}

// Visibility controls whether a dependency's public surface propagates
// through the depending target.
type Visibility int

const (
	VisibilityPublic Visibility = iota
	VisibilityPrivate
)

func (v Visibility) String() string {
	if v == VisibilityPrivate {
		return "private"
	}
	return "public"
}

func parseVisibility(s string) Visibility {
	if s == "private" {
		return VisibilityPrivate
	}
	return VisibilityPublic
}

// TargetDepSpec refines a package-level dependency at the target level:
// which target of the dependency to use, and how its surfaces propagate.
type TargetDepSpec struct {
	// Target within the dependency package; defaults to the package name.
	Target string

	// Compile controls propagation of the dep's public compile surface.
	Compile Visibility

	// Link controls propagation of the dep's public link surface.
	Link Visibility
}

// TargetName returns the effective target name for a dependency package.
func (s TargetDepSpec) TargetName(packageName string) string {
	if s.Target != "" {
		return s.Target
	}
	return packageName
}

// UnmarshalTOML accepts a bare target-name string or a detailed table.
func (s *TargetDepSpec) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*s = TargetDepSpec{Target: v}
		return nil
	case map[string]interface{}:
		target, _ := v["target"].(string)
		compile, _ := v["compile"].(string)
		link, _ := v["link"].(string)
		*s = TargetDepSpec{
			Target:  target,
			Compile: parseVisibility(compile),
			Link:    parseVisibility(link),
		}
		return nil
	default:
		return xerrors.Errorf("target dep must be a string or table, got %T", data)
	}
}

// RecipeKind selects how a target is built.
type RecipeKind string

const (
	RecipeNative RecipeKind = "native"
	RecipeCMake  RecipeKind = "cmake"
	RecipeMeson  RecipeKind = "meson"
	RecipeCustom RecipeKind = "custom"
)

// Recipe declares the build procedure for a target. The zero value (empty
// Kind) means the native driver.
type Recipe struct {
	Kind RecipeKind `toml:"type"`

	// SourceDir overrides the CMakeLists.txt / meson.build directory
	// (defaults to the package root).
	SourceDir string `toml:"source_dir"`

	// Args are extra CMake arguments.
	Args []string `toml:"args"`

	// Options are extra Meson -D options.
	Options []string `toml:"options"`

	// Targets restrict the CMake/Meson targets built.
	Targets []string `toml:"targets"`

	// Steps are the structured commands of a custom recipe.
	Steps []CustomCommand `toml:"steps"`
}

// IsNative reports whether the native driver builds this target.
func (r *Recipe) IsNative() bool {
	return r == nil || r.Kind == "" || r.Kind == RecipeNative
}

// CustomCommand is one structured step of a custom recipe. Never a shell
// string: that keeps fingerprinting sound and avoids shell injection.
type CustomCommand struct {
	Program string            `toml:"program"`
	Args    []string          `toml:"args"`
	Cwd     string            `toml:"cwd"`
	Env     map[string]string `toml:"env"`

	// Outputs/Inputs declare produced and consumed files for
	// fingerprinting.
	Outputs []string `toml:"outputs"`
	Inputs  []string `toml:"inputs"`
}

// Target is one build target of a package.
type Target struct {
	Name          string
	Kind          TargetKind
	Sources       []string // glob patterns relative to the package root
	PublicHeaders []string // glob patterns
	Surface       Surface
	Deps          map[string]TargetDepSpec
	Recipe        *Recipe
	Lang          Language
	CStd          CStd
	CppStd        CppStd
}

var cppSourceExts = []string{".cc", ".cpp", ".cxx", ".c++", ".C"}

// IsCppSource reports whether path has a C++ source extension. Uppercase
// ".C" is C++ on case-sensitive filesystems.
func IsCppSource(path string) bool {
	for _, ext := range cppSourceExts {
		if ext == ".C" {
			if strings.HasSuffix(path, ".C") {
				return true
			}
			continue
		}
		if strings.HasSuffix(strings.ToLower(path), ext) {
			return true
		}
	}
	return false
}

// Validate enforces the target invariants: header-only targets carry no
// sources or recipe, and C targets name no C++ sources.
func (t *Target) Validate() error {
	if t.Kind == KindHeaderOnly {
		if len(t.Sources) > 0 {
			return diag.New("header-only target %q must not have sources", t.Name).
				WithSuggestion("remove the sources field or change kind to staticlib/sharedlib")
		}
		if t.Recipe != nil && !t.Recipe.IsNative() {
			return diag.New("header-only target %q must not have a recipe", t.Name).
				WithSuggestion("remove the recipe field")
		}
	}

	if t.Lang == LanguageC {
		for _, pattern := range t.Sources {
			if IsCppSource(pattern) {
				return diag.New("target %q has lang=c but sources match C++ extensions", t.Name).
					WithContext("pattern: %s", pattern).
					WithSuggestion("set lang = \"c++\" in [targets.%s]", t.Name)
			}
		}
	}

	return nil
}

// RequiresCpp reports whether the target needs C++ compilation or linking.
func (t *Target) RequiresCpp() bool {
	return t.Lang == LanguageCxx || t.CppStd != 0
}

// OutputFilename composes the artifact filename on the given OS.
func (t *Target) OutputFilename(os string) string {
	return t.Kind.OutputFilename(t.Name, os)
}
