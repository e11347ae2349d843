// Package abi computes the ABI identity of built artifacts: the cache key
// capturing everything that could make an artifact binary-incompatible.
package abi

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/harbourpkg/harbour/internal/hashutil"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// TargetTriple identifies the platform an artifact targets.
type TargetTriple struct {
	Arch   string // x86_64, aarch64
	Vendor string // unknown, apple, pc
	OS     string // linux, darwin, windows
	Env    string // gnu, musl, msvc; may be empty
}

// HostTriple approximates the host platform's triple.
func HostTriple() TargetTriple {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	}
	switch runtime.GOOS {
	case "darwin":
		return TargetTriple{Arch: arch, Vendor: "apple", OS: "darwin"}
	case "windows":
		return TargetTriple{Arch: arch, Vendor: "pc", OS: "windows", Env: "msvc"}
	default:
		return TargetTriple{Arch: arch, Vendor: "unknown", OS: runtime.GOOS, Env: "gnu"}
	}
}

// ParseTriple parses "arch-vendor-os[-env]".
func ParseTriple(s string) (TargetTriple, bool) {
	parts := strings.Split(s, "-")
	if len(parts) < 3 {
		return TargetTriple{}, false
	}
	t := TargetTriple{Arch: parts[0], Vendor: parts[1], OS: parts[2]}
	if len(parts) > 3 {
		t.Env = parts[3]
	}
	return t, true
}

func (t TargetTriple) String() string {
	if t.Env != "" {
		return fmt.Sprintf("%s-%s-%s-%s", t.Arch, t.Vendor, t.OS, t.Env)
	}
	return fmt.Sprintf("%s-%s-%s", t.Arch, t.Vendor, t.OS)
}

// CompilerIdentity is the compiler family plus version.
type CompilerIdentity struct {
	Family  string // gcc, clang, msvc
	Version string
}

func (c CompilerIdentity) String() string { return c.Family + "-" + c.Version }

// Identity is the complete ABI identity of one built artifact.
type Identity struct {
	Target   TargetTriple
	Compiler CompilerIdentity
	Kind     manifest.TargetKind

	// PIC is position-independent code; libraries default to true.
	PIC bool

	// Visibility is the symbol visibility preset ("default", "hidden").
	Visibility string

	// PublicDefines are the ABI-relevant defines exported on the public
	// compile surface, canonical NAME or NAME=VALUE form.
	PublicDefines []string

	// Toggles are the surface's declared ABI toggles.
	Toggles []string
}

// NewIdentity creates an identity with the library defaults.
func NewIdentity(target TargetTriple, compiler CompilerIdentity, kind manifest.TargetKind) Identity {
	return Identity{
		Target:     target,
		Compiler:   compiler,
		Kind:       kind,
		PIC:        true,
		Visibility: "default",
	}
}

// WithSurface captures the ABI-relevant pieces of a resolved surface.
func (id Identity) WithSurface(surface manifest.ResolvedSurface) Identity {
	defines := make([]string, 0, len(surface.CompilePublic.Defines))
	for _, d := range surface.CompilePublic.Defines {
		defines = append(defines, d.String())
	}
	id.PublicDefines = defines
	id.Toggles = append([]string(nil), surface.Abi.Toggles...)
	return id
}

// Fingerprint returns the short stable hash keying cached artifacts.
func (id Identity) Fingerprint() string {
	fp := hashutil.NewFingerprint().
		Str(id.Target.String()).
		Str(id.Compiler.String()).
		Str(id.Kind.String()).
		Bool(id.PIC).
		Str(id.Visibility)

	defines := append([]string(nil), id.PublicDefines...)
	sort.Strings(defines)
	fp.Strs(defines)

	toggles := append([]string(nil), id.Toggles...)
	sort.Strings(toggles)
	fp.Strs(toggles)

	return fp.ShortHex()
}

// NeedsRebuild returns the first incompatibility between the current and
// cached identities as a human-readable reason, or "" when compatible.
func NeedsRebuild(current, cached Identity) string {
	if current.Target != cached.Target {
		return fmt.Sprintf("target changed: %s -> %s", cached.Target, current.Target)
	}
	if current.Compiler.Family != cached.Compiler.Family {
		return fmt.Sprintf("compiler changed: %s -> %s", cached.Compiler.Family, current.Compiler.Family)
	}
	if current.Kind != cached.Kind {
		return fmt.Sprintf("target kind changed: %s -> %s", cached.Kind, current.Kind)
	}
	if current.PIC != cached.PIC {
		return fmt.Sprintf("PIC setting changed: %t -> %t", cached.PIC, current.PIC)
	}
	if current.Visibility != cached.Visibility {
		return fmt.Sprintf("symbol visibility changed: %s -> %s", cached.Visibility, current.Visibility)
	}
	if !equalSorted(current.PublicDefines, cached.PublicDefines) {
		return "public ABI-relevant defines changed"
	}
	if !equalSorted(current.Toggles, cached.Toggles) {
		return "ABI toggles changed"
	}
	return ""
}

func equalSorted(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
