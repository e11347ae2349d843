package build

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harbourpkg/harbour/internal/abi"
	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/resolver"
	"github.com/harbourpkg/harbour/internal/source"
	"github.com/harbourpkg/harbour/internal/toolchain"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func testContext(t *testing.T) *Context {
	t.Helper()
	root := t.TempDir()
	return &Context{
		Toolchain:       toolchain.NewGcc("gcc", "", "ar", toolchain.FamilyGcc),
		Triple:          abi.TargetTriple{Arch: "x86_64", Vendor: "unknown", OS: "linux", Env: "gnu"},
		Compiler:        abi.CompilerIdentity{Family: "gcc", Version: "13.2"},
		Platform:        manifest.TargetPlatform{OS: "linux", Arch: "amd64", Compiler: "gcc"},
		Profile:         manifest.Profile{},
		ProfileName:     "debug",
		Cxx:             toolchain.DefaultCxxOptions(),
		OutputDir:       filepath.Join(root, "target", "debug"),
		DepsDir:         filepath.Join(root, "deps"),
		WorkspaceRoot:   root,
		FingerprintPath: filepath.Join(root, "fingerprints.json"),
	}
}

// appAndLib writes an exe package depending on a static-lib path dep and
// resolves the pair.
func appAndLib(t *testing.T) (*Context, *resolver.Resolve, *source.Cache, core.PackageId, core.PackageId) {
	t.Helper()
	base := t.TempDir()

	libDir := filepath.Join(base, "mylib")
	write(t, filepath.Join(libDir, "Harbour.toml"), `
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

[targets.mylib.surface.link.public]
libs = ["-lm"]
`)
	write(t, filepath.Join(libDir, "src", "lib.c"), "int mylib_add(int a, int b) { return a + b; }\n")
	write(t, filepath.Join(libDir, "include", "mylib.h"), "int mylib_add(int a, int b);\n")

	appDir := filepath.Join(base, "app")
	write(t, filepath.Join(appDir, "Harbour.toml"), `
[package]
name = "app"
version = "0.1.0"

[dependencies]
mylib = { path = "../mylib", version = "=1.0.0" }

[targets.app]
kind = "exe"
sources = ["src/main.c"]
`)
	write(t, filepath.Join(appDir, "src", "main.c"), "int main(void) { return 0; }\n")

	cache := source.NewCache(source.NewPathSource())

	appManifest, err := manifest.Load(filepath.Join(appDir, "Harbour.toml"))
	require.NoError(t, err)
	appPkg, err := manifest.NewPackage(appManifest, appDir)
	require.NoError(t, err)
	rootSummary, err := appPkg.Summary()
	require.NoError(t, err)

	res, err := resolver.NewResolver(rootSummary, cache).Resolve()
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())

	libID, ok := res.GetPackageByName("mylib")
	require.True(t, ok)

	return testContext(t), res, cache, appPkg.ID, libID
}

func TestPlanExeWithStaticLibDep(t *testing.T) {
	ctx, res, cache, appID, libID := appAndLib(t)

	plan, err := NewPlan(ctx, res, cache, nil, []core.PackageId{appID}, nil)
	require.NoError(t, err)

	require.Equal(t, 2, plan.CompileCount())
	require.Equal(t, 2, plan.LinkCount())
	require.Equal(t, []string{"mylib 1.0.0", "app 0.1.0"}, plan.BuildOrder)

	// dependency's archive precedes the root's link in plan order
	var sawArchive bool
	for _, step := range plan.Steps {
		switch s := step.(type) {
		case ArchiveStep:
			require.Equal(t, "mylib", s.Package)
			require.True(t, strings.HasSuffix(s.Output, filepath.Join("mylib-1.0.0", "lib", "libmylib.a")))
			sawArchive = true
		case LinkStep:
			require.True(t, sawArchive, "archive must come before the exe link")
			require.Equal(t, "app", s.Package)
			require.False(t, s.UseCxxLinker)
			// the built dep library rides the link surface (invariant 5)
			depLib := filepath.Join(ctx.DepsDir, "mylib-1.0.0", "lib", "libmylib.a")
			require.Contains(t, s.Libs, depLib)
			require.Contains(t, s.Libs, "-lm")
		}
	}
	require.True(t, sawArchive)

	// the app's compile sees mylib's public include dir and define
	var appCompile *CompileStep
	for i := range plan.CompileSteps {
		if plan.CompileSteps[i].Package == "app" {
			appCompile = &plan.CompileSteps[i]
		}
	}
	require.NotNil(t, appCompile)
	require.Contains(t, appCompile.IncludeDirs, filepath.Join(res.Deps(appID)[0].SourceID().LocalPath(), "include"))
	require.Equal(t, "MYLIB_API", appCompile.Defines[0].Name)
	_ = libID
}

func TestPlanTargetFilter(t *testing.T) {
	ctx, res, cache, appID, _ := appAndLib(t)

	plan, err := NewPlan(ctx, res, cache, nil, []core.PackageId{appID}, []string{"nonexistent"})
	require.NoError(t, err)

	// the root target is filtered out, the dependency still builds fully
	for _, step := range plan.CompileSteps {
		require.Equal(t, "mylib", step.Package)
	}
}

func TestPlanRejectsCppSourceInCTarget(t *testing.T) {
	ctx := testContext(t)

	dir := t.TempDir()
	write(t, filepath.Join(dir, "Harbour.toml"), `
[package]
name = "bad"
version = "1.0.0"

[targets.bad]
kind = "staticlib"
lang = "c"
sources = ["src/**/*"]
`)
	write(t, filepath.Join(dir, "src", "oops.cpp"), "int x;\n")

	m, err := manifest.Load(filepath.Join(dir, "Harbour.toml"))
	require.NoError(t, err)
	pkg, err := manifest.NewPackage(m, dir)
	require.NoError(t, err)
	summary, err := pkg.Summary()
	require.NoError(t, err)

	res := resolver.NewResolve()
	res.AddPackage(pkg.ID, summary)
	require.NoError(t, res.Finalize())

	sr := NewSurfaceResolver(res, ctx.Platform)
	sr.AddPackage(pkg)

	_, err = NewPlan(ctx, res, nil, sr, []core.PackageId{pkg.ID}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "C++ extension")
}

func TestPlanRecipes(t *testing.T) {
	ctx := testContext(t)
	dir := t.TempDir()
	write(t, filepath.Join(dir, "Harbour.toml"), `
[package]
name = "ext"
version = "1.0.0"

[targets.cmake_part]
kind = "staticlib"
recipe = { type = "cmake", args = ["-DBUILD_SHARED_LIBS=OFF"], targets = ["zlibstatic"] }

[targets.meson_part]
kind = "staticlib"
recipe = { type = "meson", options = ["-Ddefault_library=static"] }

[targets.custom_part]
kind = "staticlib"

[targets.custom_part.recipe]
type = "custom"

[[targets.custom_part.recipe.steps]]
program = "make"
args = ["-j4"]
cwd = "sub"
outputs = ["out/libcustom.a"]
`)

	m, err := manifest.Load(filepath.Join(dir, "Harbour.toml"))
	require.NoError(t, err)
	pkg, err := manifest.NewPackage(m, dir)
	require.NoError(t, err)
	summary, err := pkg.Summary()
	require.NoError(t, err)

	res := resolver.NewResolve()
	res.AddPackage(pkg.ID, summary)
	require.NoError(t, res.Finalize())

	sr := NewSurfaceResolver(res, ctx.Platform)
	sr.AddPackage(pkg)

	plan, err := NewPlan(ctx, res, nil, sr, []core.PackageId{pkg.ID}, nil)
	require.NoError(t, err)

	var kinds []string
	for _, step := range plan.Steps {
		switch s := step.(type) {
		case CMakeStep:
			kinds = append(kinds, "cmake")
			require.Equal(t, []string{"-DBUILD_SHARED_LIBS=OFF"}, s.Args)
			require.Equal(t, []string{"zlibstatic"}, s.Targets)
		case MesonStep:
			kinds = append(kinds, "meson")
			require.Equal(t, []string{"-Ddefault_library=static"}, s.Options)
		case CustomStep:
			kinds = append(kinds, "custom")
			require.Equal(t, "make", s.Program)
			require.Equal(t, filepath.Join(dir, "sub"), s.Cwd)
			require.Equal(t, []string{filepath.Join(dir, "out", "libcustom.a")}, s.Outputs)
		}
	}
	require.ElementsMatch(t, []string{"cmake", "meson", "custom"}, kinds)
}

func TestSurfacePropagationDedup(t *testing.T) {
	_, res, cache, appID, _ := appAndLib(t)
	ctx := testContext(t)

	sr := NewSurfaceResolver(res, ctx.Platform)
	require.NoError(t, sr.LoadPackages(cache))

	appPkg := sr.Package(appID)
	eff, err := sr.CompileSurface(appID, appPkg.DefaultTarget())
	require.NoError(t, err)

	seen := map[string]int{}
	for _, dir := range eff.IncludeDirs {
		seen[dir]++
	}
	for dir, n := range seen {
		require.Equal(t, 1, n, "include dir %s duplicated", dir)
	}
}

func TestSurfaceVisibilityBlocksPropagation(t *testing.T) {
	ctx := testContext(t)
	src, err := core.ForRegistry("https://github.com/harbourpkg/registry")
	require.NoError(t, err)

	mk := func(name string, deps map[string]manifest.TargetDepSpec, pubInclude string) *manifest.Package {
		target := manifest.Target{Name: name, Kind: manifest.KindStaticLib, Deps: deps}
		if pubInclude != "" {
			target.Surface.Compile.Public.IncludeDirs = []string{pubInclude}
		}
		m := &manifest.Manifest{
			Package:      &manifest.PackageMeta{Name: name, Version: "1.0.0"},
			Dependencies: map[string]manifest.DependencySpec{},
			Targets:      []manifest.Target{target},
			Profiles:     map[string]manifest.Profile{},
		}
		pkg, err := manifest.NewPackageWithSource(m, t.TempDir(), src)
		require.NoError(t, err)
		return pkg
	}

	// top -> mid -> leaf; mid marks leaf's compile surface private
	leaf := mk("leaf", nil, "leafinc")
	mid := mk("mid", map[string]manifest.TargetDepSpec{
		"leaf": {Compile: manifest.VisibilityPrivate},
	}, "midinc")
	top := mk("top", nil, "")

	res := resolver.NewResolve()
	for _, p := range []*manifest.Package{top, mid, leaf} {
		res.AddPackage(p.ID, core.NewSummary(p.ID, nil, ""))
	}
	res.AddEdge(top.ID, mid.ID)
	res.AddEdge(mid.ID, leaf.ID)
	require.NoError(t, res.Finalize())

	sr := NewSurfaceResolver(res, ctx.Platform)
	for _, p := range []*manifest.Package{top, mid, leaf} {
		sr.AddPackage(p)
	}

	// mid still sees leaf (direct dep)
	midEff, err := sr.CompileSurface(mid.ID, mid.DefaultTarget())
	require.NoError(t, err)
	require.Contains(t, strings.Join(midEff.IncludeDirs, " "), "leafinc")

	// top sees mid but NOT leaf: mid made the edge private
	topEff, err := sr.CompileSurface(top.ID, top.DefaultTarget())
	require.NoError(t, err)
	joined := strings.Join(topEff.IncludeDirs, " ")
	require.Contains(t, joined, "midinc")
	require.NotContains(t, joined, "leafinc")
}

func TestSurfaceProvenance(t *testing.T) {
	_, res, cache, appID, libID := appAndLib(t)
	ctx := testContext(t)

	sr := NewSurfaceResolver(res, ctx.Platform)
	require.NoError(t, sr.LoadPackages(cache))

	appPkg := sr.Package(appID)
	eff, err := sr.CompileSurfaceProvenance(appID, appPkg.DefaultTarget())
	require.NoError(t, err)

	var found bool
	for _, d := range eff.Defines {
		if d.Value.Name == "MYLIB_API" {
			require.Equal(t, libID, d.Origin.Package)
			require.Equal(t, SectionCompilePublic, d.Origin.Section)
			require.Contains(t, d.Origin.String(), "surface.compile.public")
			found = true
		}
	}
	require.True(t, found, "mylib's define must carry its provenance")
}

func TestSplitLinkFlags(t *testing.T) {
	libs, extra, libFiles := SplitLinkFlags([]string{
		"-lm",
		"-framework", "Foundation",
		"-lz",
		"custom.a",
		"deps/mylib-1.0.0/lib/libmylib.a",
		"-Wl,-rpath,/opt/lib",
	})
	require.Equal(t, []string{"m", "z"}, libs)
	require.Equal(t, []string{"-framework", "Foundation", "-Wl,-rpath,/opt/lib"}, extra)
	require.Equal(t, []string{"custom.a", "deps/mylib-1.0.0/lib/libmylib.a"}, libFiles)

	// dangling -framework and bare -l are dropped
	libs, extra, libFiles = SplitLinkFlags([]string{"-l", "-framework"})
	require.Empty(t, libs)
	require.Empty(t, extra)
	require.Empty(t, libFiles)
}

func TestCompileFingerprintInvariance(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.c")
	hdr := filepath.Join(dir, "a.h")
	write(t, src, "int main(void){return 0;}\n")
	write(t, hdr, "void f(void);\n")

	fp1, err := NewCompileFingerprint(src, "gcc", []string{"-O2", "-Wall"}, []string{hdr})
	require.NoError(t, err)
	fp2, err := NewCompileFingerprint(src, "gcc", []string{"-O2", "-Wall"}, []string{hdr})
	require.NoError(t, err)
	require.True(t, fp1.Matches(fp2), "identical inputs must produce identical fingerprints")

	// each input flips the fingerprint
	fpFlags, err := NewCompileFingerprint(src, "gcc", []string{"-O3"}, []string{hdr})
	require.NoError(t, err)
	require.False(t, fp1.Matches(fpFlags))

	fpCompiler, err := NewCompileFingerprint(src, "clang", []string{"-O2", "-Wall"}, []string{hdr})
	require.NoError(t, err)
	require.False(t, fp1.Matches(fpCompiler))

	write(t, src, "int main(void){return 1;}\n")
	fpSource, err := NewCompileFingerprint(src, "gcc", []string{"-O2", "-Wall"}, []string{hdr})
	require.NoError(t, err)
	require.False(t, fp1.Matches(fpSource))

	write(t, src, "int main(void){return 0;}\n")
	write(t, hdr, "void g(void);\n")
	fpHeader, err := NewCompileFingerprint(src, "gcc", []string{"-O2", "-Wall"}, []string{hdr})
	require.NoError(t, err)
	require.False(t, fp1.Matches(fpHeader))
}

func TestFingerprintCachePersistence(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.c")
	write(t, src, "int x;\n")

	fp, err := NewCompileFingerprint(src, "gcc", nil, nil)
	require.NoError(t, err)

	cache := NewFingerprintCache()
	require.True(t, cache.NeedsCompile(src, fp))
	cache.Compile[src] = fp

	path := filepath.Join(dir, "fingerprints.json")
	require.NoError(t, cache.Save(path))

	loaded := LoadFingerprintCache(path)
	require.False(t, loaded.NeedsCompile(src, fp))

	// corrupt cache falls back to empty
	write(t, path, "{not json")
	require.True(t, LoadFingerprintCache(path).NeedsCompile(src, fp))
}

func TestEmitCompileCommands(t *testing.T) {
	ctx, res, cache, appID, _ := appAndLib(t)

	plan, err := NewPlan(ctx, res, cache, nil, []core.PackageId{appID}, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "compile_commands.json")
	require.NoError(t, plan.EmitCompileCommands(ctx, path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	require.Contains(t, text, `"directory"`)
	require.Contains(t, text, `"arguments"`)
	require.Contains(t, text, "main.c")
	require.Contains(t, text, `"gcc"`)
}

func TestGlobFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "src", "a.c"), "")
	write(t, filepath.Join(dir, "src", "sub", "b.c"), "")
	write(t, filepath.Join(dir, "src", "c.h"), "")

	files, err := globFiles(dir, []string{"src/**/*.c"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.True(t, strings.HasSuffix(files[0], "a.c"))
	require.True(t, strings.HasSuffix(files[1], filepath.Join("sub", "b.c")))

	// duplicate patterns do not duplicate files
	files, err = globFiles(dir, []string{"src/**/*.c", "src/a.c"})
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestExecutorCustomStep(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a unix `true` binary")
	}
	ctx := testContext(t)
	plan := &Plan{Steps: []Step{
		CustomStep{Program: "true", Package: "p", Target: "t", Cwd: ctx.WorkspaceRoot},
	}}

	exec := NewExecutor(ctx)
	_, stats, err := exec.Execute(plan)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Compiled)

	// the fingerprint cache persists even for plans without compiles
	_, err = os.Stat(ctx.FingerprintPath)
	require.NoError(t, err)
}

func TestExecutorCustomStepFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a unix `false` binary")
	}
	ctx := testContext(t)
	plan := &Plan{Steps: []Step{
		CustomStep{Program: "false", Package: "p", Target: "t", Cwd: ctx.WorkspaceRoot},
	}}

	_, _, err := NewExecutor(ctx).Execute(plan)
	require.Error(t, err)
	require.Contains(t, err.Error(), `custom command "false" failed`)
}

func TestGroupFlags(t *testing.T) {
	flags := groupFlags(manifest.LinkGroup{Kind: manifest.WholeArchive, Libs: []string{"foo"}})
	require.Equal(t, []string{"-Wl,--whole-archive", "-lfoo", "-Wl,--no-whole-archive"}, flags)

	flags = groupFlags(manifest.LinkGroup{Kind: manifest.StartEndGroup, Libs: []string{"a", "b"}})
	require.Equal(t, []string{"-Wl,--start-group", "-la", "-lb", "-Wl,--end-group"}, flags)
}
