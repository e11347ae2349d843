package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/manifest"
)

func cppPackage(t *testing.T, src core.SourceId, name, version string, std manifest.CppStd, requires manifest.CppStd) (core.PackageId, *manifest.Package) {
	t.Helper()
	target := manifest.Target{
		Name: name,
		Kind: manifest.KindStaticLib,
		Lang: manifest.LanguageCxx,
	}
	target.CppStd = std
	target.Surface.Compile.RequiresCpp = requires

	m := &manifest.Manifest{
		Package:      &manifest.PackageMeta{Name: name, Version: version},
		Dependencies: map[string]manifest.DependencySpec{},
		Targets:      []manifest.Target{target},
		Profiles:     map[string]manifest.Profile{},
	}
	pkg, err := manifest.NewPackageWithSource(m, t.TempDir(), src)
	require.NoError(t, err)
	return pkg.ID, pkg
}

func TestCppConstraintsUnification(t *testing.T) {
	src := registrySource(t)
	resolve := NewResolve()
	packages := map[core.PackageId]*manifest.Package{}

	rootID, rootPkg := cppPackage(t, src, "root", "1.0.0", 0, 0)
	depID, depPkg := cppPackage(t, src, "dep", "1.0.0", manifest.Cpp20, 0)

	resolve.AddPackage(rootID, core.NewSummary(rootID, nil, ""))
	resolve.AddPackage(depID, core.NewSummary(depID, nil, ""))
	resolve.AddEdge(rootID, depID)
	require.NoError(t, resolve.Finalize())
	packages[rootID] = rootPkg
	packages[depID] = depPkg

	build := manifest.BuildConfig{CppStd: manifest.Cpp23}
	constraints, err := ComputeCppConstraints(resolve, packages, build, 0)
	require.NoError(t, err)
	require.Equal(t, manifest.Cpp23, constraints.EffectiveStd)
	require.Equal(t, manifest.Cpp20, constraints.MinRequiredStd)
	require.True(t, constraints.HasCpp)
	require.True(t, constraints.Exceptions)
	require.True(t, constraints.RTTI)
	require.Equal(t, manifest.MsvcDynamic, constraints.MsvcRuntime)
}

func TestCppConstraintsConflict(t *testing.T) {
	src := registrySource(t)
	resolve := NewResolve()
	packages := map[core.PackageId]*manifest.Package{}

	rootID, rootPkg := cppPackage(t, src, "root", "1.0.0", 0, 0)
	depID, depPkg := cppPackage(t, src, "mylib", "1.0.0", 0, manifest.Cpp20)

	resolve.AddPackage(rootID, core.NewSummary(rootID, nil, ""))
	resolve.AddPackage(depID, core.NewSummary(depID, nil, ""))
	resolve.AddEdge(rootID, depID)
	require.NoError(t, resolve.Finalize())
	packages[rootID] = rootPkg
	packages[depID] = depPkg

	build := manifest.BuildConfig{CppStd: manifest.Cpp17}
	_, err := ComputeCppConstraints(resolve, packages, build, 0)
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "mylib")
	require.Contains(t, msg, "C++20")
	require.Contains(t, msg, "C++17")
	require.Contains(t, msg, "--std=20 or higher")
}

func TestCppConstraintsCliOverridesBuildConfig(t *testing.T) {
	src := registrySource(t)
	resolve := NewResolve()
	rootID, rootPkg := cppPackage(t, src, "root", "1.0.0", manifest.Cpp14, 0)
	resolve.AddPackage(rootID, core.NewSummary(rootID, nil, ""))
	require.NoError(t, resolve.Finalize())
	packages := map[core.PackageId]*manifest.Package{rootID: rootPkg}

	build := manifest.BuildConfig{CppStd: manifest.Cpp17}
	constraints, err := ComputeCppConstraints(resolve, packages, build, manifest.Cpp20)
	require.NoError(t, err)
	require.Equal(t, manifest.Cpp20, constraints.EffectiveStd)
}

func TestCppConstraintsNoCpp(t *testing.T) {
	src := registrySource(t)
	resolve := NewResolve()

	target := manifest.Target{Name: "conly", Kind: manifest.KindStaticLib, Lang: manifest.LanguageC}
	m := &manifest.Manifest{
		Package:      &manifest.PackageMeta{Name: "conly", Version: "1.0.0"},
		Dependencies: map[string]manifest.DependencySpec{},
		Targets:      []manifest.Target{target},
		Profiles:     map[string]manifest.Profile{},
	}
	pkg, err := manifest.NewPackageWithSource(m, t.TempDir(), src)
	require.NoError(t, err)

	resolve.AddPackage(pkg.ID, core.NewSummary(pkg.ID, nil, ""))
	require.NoError(t, resolve.Finalize())

	constraints, err := ComputeCppConstraints(resolve, map[core.PackageId]*manifest.Package{pkg.ID: pkg}, manifest.BuildConfig{}, 0)
	require.NoError(t, err)
	require.False(t, constraints.HasCpp)
	require.Equal(t, manifest.CppStd(0), constraints.EffectiveStd)
}
