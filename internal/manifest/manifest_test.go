package manifest

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func parseAt(t *testing.T, content string) *Manifest {
	t.Helper()
	m, err := Parse(content, filepath.Join(t.TempDir(), Filename))
	require.NoError(t, err)
	return m
}

func TestParseBasicManifest(t *testing.T) {
	m := parseAt(t, `
[package]
name = "mylib"
version = "1.0.0"

[targets.mylib]
kind = "staticlib"
sources = ["src/**/*.c"]
`)
	require.Equal(t, "mylib", m.Name())
	require.Len(t, m.Targets, 1)
	require.Equal(t, KindStaticLib, m.Targets[0].Kind)
	require.Equal(t, []string{"src/**/*.c"}, m.Targets[0].Sources)
}

func TestParseRequiresPackageOrWorkspace(t *testing.T) {
	_, err := Parse(`
[dependencies]
foo = "1.0"
`, "/tmp/Harbour.toml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[package] or [workspace]")
}

func TestParseSurface(t *testing.T) {
	m := parseAt(t, `
[package]
name = "mylib"
version = "1.0.0"

[targets.mylib]
kind = "staticlib"
sources = ["src/**/*.c"]
public_headers = ["include/**/*.h"]

[targets.mylib.surface.compile.public]
include_dirs = ["include"]
defines = ["MYLIB_API=1"]

[targets.mylib.surface.compile.private]
include_dirs = ["src"]
cflags = ["-Wall"]

[targets.mylib.surface.link.public]
libs = [{ kind = "system", name = "m" }, "-lpthread", "-framework Security"]
`)
	tgt := m.Targets[0]
	require.Equal(t, []string{"include"}, tgt.Surface.Compile.Public.IncludeDirs)
	require.Equal(t, Define{Name: "MYLIB_API", Value: "1"}, tgt.Surface.Compile.Public.Defines[0])
	require.Equal(t, []string{"-Wall"}, tgt.Surface.Compile.Private.Cflags)

	libs := tgt.Surface.Link.Public.Libs
	require.Len(t, libs, 3)
	require.Equal(t, SystemLib("m"), libs[0])
	require.Equal(t, SystemLib("pthread"), libs[1])
	require.Equal(t, FrameworkLib("Security"), libs[2])
}

func TestLibRefShorthandEquivalence(t *testing.T) {
	require.Equal(t, FrameworkLib("X").Flags(), ParseLibShorthand("-framework X").Flags())
	require.Equal(t, SystemLib("m").Flags(), ParseLibShorthand("-lm").Flags())
	require.Equal(t, SystemLib("pthread").Flags(), ParseLibShorthand("pthread").Flags())
}

func TestDefineForms(t *testing.T) {
	d := ParseDefine("VERSION=1")
	require.Equal(t, "VERSION", d.Name)
	require.Equal(t, "1", d.Value)
	require.Equal(t, "-DVERSION=1", d.Flag("-D"))
	require.Equal(t, "/DVERSION=1", d.Flag("/D"))

	flag := ParseDefine("DEBUG")
	require.Equal(t, "-DDEBUG", flag.Flag("-D"))
}

func TestHeaderOnlyValidation(t *testing.T) {
	_, err := Parse(`
[package]
name = "hdr"
version = "1.0.0"

[targets.hdr]
kind = "header-only"
sources = ["src/*.c"]
`, "/tmp/Harbour.toml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not have sources")
}

func TestCxxExtensionValidation(t *testing.T) {
	_, err := Parse(`
[package]
name = "clib"
version = "1.0.0"

[targets.clib]
kind = "staticlib"
lang = "c"
sources = ["src/**/*.cpp"]
`, "/tmp/Harbour.toml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "lang=c")
}

func TestTargetKindAliases(t *testing.T) {
	m := parseAt(t, `
[package]
name = "multi"
version = "1.0.0"

[targets.a]
kind = "bin"
sources = ["a.c"]

[targets.b]
kind = "dylib"
sources = ["b.c"]

[targets.c]
kind = "interface"
`)
	require.Equal(t, KindExe, m.Target("a").Kind)
	require.Equal(t, KindSharedLib, m.Target("b").Kind)
	require.Equal(t, KindHeaderOnly, m.Target("c").Kind)
}

func TestDefaultTargetSynthesis(t *testing.T) {
	m := parseAt(t, `
[package]
name = "bare"
version = "0.1.0"
`)
	require.Len(t, m.Targets, 1)
	require.Equal(t, "bare", m.Targets[0].Name)
	require.Equal(t, KindStaticLib, m.Targets[0].Kind)
}

func TestVirtualWorkspace(t *testing.T) {
	m := parseAt(t, `
[workspace]
members = ["packages/*"]
exclude = ["packages/experimental"]

[workspace.dependencies]
zlib = { git = "https://github.com/madler/zlib", tag = "v1.3.1" }
`)
	require.True(t, m.IsVirtualWorkspace())
	require.Empty(t, m.Targets)
	require.Len(t, m.Workspace.Dependencies, 1)
}

func TestDependencySpecs(t *testing.T) {
	m := parseAt(t, `
[package]
name = "myapp"
version = "1.0.0"

[dependencies]
mylib = { path = "../mylib" }
zlib = { git = "https://github.com/madler/zlib", tag = "v1.3.1" }
fmt = "^10.1"
curl = { vcpkg = "curl", triplet = "x64-linux" }
`)
	require.Len(t, m.Dependencies, 4)

	mylibSpec := m.Dependencies["mylib"]
	dep, err := mylibSpec.ToDependency("mylib", m.Dir)
	require.NoError(t, err)
	require.True(t, dep.SourceID().IsPath())

	zlibSpec := m.Dependencies["zlib"]
	dep, err = zlibSpec.ToDependency("zlib", m.Dir)
	require.NoError(t, err)
	require.True(t, dep.SourceID().IsGit())

	fmtSpec := m.Dependencies["fmt"]
	dep, err = fmtSpec.ToDependency("fmt", m.Dir)
	require.NoError(t, err)
	require.True(t, dep.SourceID().IsRegistry())
	require.Equal(t, DefaultRegistryURL, dep.SourceID().URL())

	curlSpec := m.Dependencies["curl"]
	dep, err = curlSpec.ToDependency("curl", m.Dir)
	require.NoError(t, err)
	require.True(t, dep.SourceID().IsVcpkg())
}

func TestDependencySpecValidation(t *testing.T) {
	spec := DependencySpec{Path: "../a", Git: "https://example.com/a"}
	_, err := spec.ToDependency("a", "/tmp")
	require.Error(t, err)

	spec = DependencySpec{Git: "https://example.com/a", Branch: "main", Tag: "v1"}
	_, err = spec.ToDependency("a", "/tmp")
	require.Error(t, err)

	spec = DependencySpec{}
	_, err = spec.ToDependency("a", "/tmp")
	require.Error(t, err)

	spec = DependencySpec{Version: "1.0"}
	_, err = spec.ToDependency("Not-Valid", "/tmp")
	require.Error(t, err, "registry names must be lowercase")
}

func TestPlatformConditionMatching(t *testing.T) {
	platform := TargetPlatform{OS: "linux", Arch: "amd64", Env: "gnu", Compiler: "gcc"}

	require.True(t, PlatformCondition{OS: "linux"}.Matches(platform))
	require.False(t, PlatformCondition{OS: "windows"}.Matches(platform))
	require.True(t, PlatformCondition{OS: "linux", Arch: "amd64"}.Matches(platform))
	require.True(t, PlatformCondition{}.Matches(platform))
	require.False(t, PlatformCondition{Compiler: "msvc"}.Matches(platform))
}

func TestSurfaceResolveConditionals(t *testing.T) {
	m := parseAt(t, `
[package]
name = "cond"
version = "1.0.0"

[targets.cond]
kind = "staticlib"
sources = ["src/*.c"]

[targets.cond.surface.compile.public]
defines = ["COMMON"]

[[targets.cond.surface.when]]
os = "windows"
[targets.cond.surface.when.compile.public]
defines = ["WIN32"]
`)
	surface := m.Targets[0].Surface

	linux := surface.Resolve(TargetPlatform{OS: "linux", Arch: "amd64"})
	require.Len(t, linux.CompilePublic.Defines, 1)

	windows := surface.Resolve(TargetPlatform{OS: "windows", Arch: "amd64"})
	require.Len(t, windows.CompilePublic.Defines, 2)

	// resolving twice must not accumulate
	again := surface.Resolve(TargetPlatform{OS: "windows", Arch: "amd64"})
	require.Len(t, again.CompilePublic.Defines, 2)
}

func TestProfileDefaults(t *testing.T) {
	m := parseAt(t, `
[package]
name = "p"
version = "1.0.0"

[profile.release]
lto = true
`)
	debug := m.DebugProfile()
	require.Equal(t, "0", *debug.OptLevel)
	require.Equal(t, "2", *debug.Debug)

	release := m.ReleaseProfile()
	require.Equal(t, "3", *release.OptLevel)
	require.Equal(t, "0", *release.Debug)
	require.True(t, *release.Lto)
}

func TestProfileOverrideMerging(t *testing.T) {
	m := parseAt(t, `
[package]
name = "p"
version = "1.0.0"

[profile.debug]
opt_level = "1"
sanitizers = ["address"]
`)
	debug := m.DebugProfile()
	require.Equal(t, "1", *debug.OptLevel)
	require.Equal(t, "2", *debug.Debug, "unset field retains the default")
	require.Equal(t, []string{"address"}, debug.Sanitizers)
}

func TestOutputFilenames(t *testing.T) {
	cases := []struct {
		kind TargetKind
		os   string
		want string
	}{
		{KindExe, "linux", "myapp"},
		{KindExe, "windows", "myapp.exe"},
		{KindStaticLib, "linux", "libmyapp.a"},
		{KindStaticLib, "windows", "myapp.lib"},
		{KindSharedLib, "darwin", "libmyapp.dylib"},
		{KindSharedLib, "windows", "myapp.dll"},
		{KindSharedLib, "linux", "libmyapp.so"},
	}
	for _, tc := range cases {
		if got := tc.kind.OutputFilename("myapp", tc.os); got != tc.want {
			t.Errorf("%v on %s = %q, want %q", tc.kind, tc.os, got, tc.want)
		}
	}
}

func TestCppStdForms(t *testing.T) {
	m := parseAt(t, `
[package]
name = "p"
version = "1.0.0"

[build]
cpp_std = 17

[targets.p]
kind = "staticlib"
lang = "c++"
cpp_std = "20"
sources = ["src/*.cpp"]
`)
	require.Equal(t, Cpp17, m.Build.CppStd)
	require.Equal(t, Cpp20, m.Targets[0].CppStd)
}

func TestParseRoundTripStability(t *testing.T) {
	content := `
[package]
name = "stable"
version = "2.1.0"

[dependencies]
dep = { path = "../dep" }

[targets.stable]
kind = "exe"
sources = ["src/main.c"]
`
	a := parseAt(t, content)
	b := parseAt(t, content)
	if diff := cmp.Diff(a.Targets, b.Targets, cmp.AllowUnexported(Target{}, DependencySpec{})); diff != "" {
		t.Fatalf("repeated parse diverged (-first +second):\n%s", diff)
	}
}
