package abi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harbourpkg/harbour/internal/manifest"
)

var (
	linuxGnu = TargetTriple{Arch: "x86_64", Vendor: "unknown", OS: "linux", Env: "gnu"}
	gcc13    = CompilerIdentity{Family: "gcc", Version: "13.2"}
	clang17  = CompilerIdentity{Family: "clang", Version: "17.0"}
)

func TestParseTriple(t *testing.T) {
	triple, ok := ParseTriple("x86_64-unknown-linux-gnu")
	require.True(t, ok)
	require.Equal(t, linuxGnu, triple)
	require.Equal(t, "x86_64-unknown-linux-gnu", triple.String())

	apple, ok := ParseTriple("aarch64-apple-darwin")
	require.True(t, ok)
	require.Equal(t, "", apple.Env)

	_, ok = ParseTriple("x86_64")
	require.False(t, ok)
}

func TestFingerprintStable(t *testing.T) {
	a := NewIdentity(linuxGnu, gcc13, manifest.KindStaticLib)
	b := NewIdentity(linuxGnu, gcc13, manifest.KindStaticLib)
	require.Equal(t, a.Fingerprint(), b.Fingerprint())
	require.Len(t, a.Fingerprint(), 16)
}

func TestFingerprintDefineOrderInsensitive(t *testing.T) {
	a := NewIdentity(linuxGnu, gcc13, manifest.KindStaticLib)
	a.PublicDefines = []string{"FOO=1", "BAR"}
	b := NewIdentity(linuxGnu, gcc13, manifest.KindStaticLib)
	b.PublicDefines = []string{"BAR", "FOO=1"}
	require.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintSensitivity(t *testing.T) {
	base := NewIdentity(linuxGnu, gcc13, manifest.KindStaticLib)

	compiler := base
	compiler.Compiler = clang17
	require.NotEqual(t, base.Fingerprint(), compiler.Fingerprint())

	kind := NewIdentity(linuxGnu, gcc13, manifest.KindSharedLib)
	require.NotEqual(t, base.Fingerprint(), kind.Fingerprint())

	pic := base
	pic.PIC = false
	require.NotEqual(t, base.Fingerprint(), pic.Fingerprint())

	defines := base
	defines.PublicDefines = []string{"ZLIB_CONST"}
	require.NotEqual(t, base.Fingerprint(), defines.Fingerprint())
}

func TestNeedsRebuildReasons(t *testing.T) {
	base := NewIdentity(linuxGnu, gcc13, manifest.KindStaticLib)

	require.Equal(t, "", NeedsRebuild(base, base))

	other := base
	other.Compiler = clang17
	require.Contains(t, NeedsRebuild(other, base), "compiler changed")

	pic := base
	pic.PIC = false
	require.Contains(t, NeedsRebuild(pic, base), "PIC setting changed")

	defines := base
	defines.PublicDefines = []string{"NEW"}
	require.Contains(t, NeedsRebuild(defines, base), "defines changed")
}

func TestWithSurface(t *testing.T) {
	surface := manifest.ResolvedSurface{}
	surface.CompilePublic.Defines = []manifest.Define{
		{Name: "API", Value: "2"},
		{Name: "STATIC"},
	}
	surface.Abi.Toggles = []string{manifest.TogglePIC}

	id := NewIdentity(linuxGnu, gcc13, manifest.KindStaticLib).WithSurface(surface)
	require.Equal(t, []string{"API=2", "STATIC"}, id.PublicDefines)
	require.Equal(t, []string{"pic"}, id.Toggles)
}
