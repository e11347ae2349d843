package ops

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/workspace"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// pathDepWorkspace lays out an exe package with one path static-lib dep.
func pathDepWorkspace(t *testing.T) string {
	t.Helper()
	base := t.TempDir()

	write(t, filepath.Join(base, "mylib", "Harbour.toml"), `
[package]
name = "mylib"
version = "1.0.0"

[targets.mylib]
kind = "staticlib"
sources = ["src/**/*.c"]

[targets.mylib.surface.compile.public]
include_dirs = ["include"]
`)
	write(t, filepath.Join(base, "mylib", "src", "lib.c"), "int f(void){return 1;}\n")
	write(t, filepath.Join(base, "mylib", "include", "mylib.h"), "int f(void);\n")

	write(t, filepath.Join(base, "app", "Harbour.toml"), `
[package]
name = "app"
version = "0.1.0"

[dependencies]
mylib = { path = "../mylib", version = "=1.0.0" }

[targets.app]
kind = "exe"
sources = ["src/main.c"]
`)
	write(t, filepath.Join(base, "app", "src", "main.c"), "int main(void){return 0;}\n")

	return filepath.Join(base, "app")
}

func TestResolveWorkspaceWritesLockfile(t *testing.T) {
	appDir := pathDepWorkspace(t)
	s, err := NewSession(appDir)
	require.NoError(t, err)

	res, rootPkg, err := s.ResolveWorkspace(false)
	require.NoError(t, err)
	require.Equal(t, "app", rootPkg.Name())
	require.Equal(t, 2, res.Len())

	content, err := os.ReadFile(filepath.Join(appDir, "Harbour.lock"))
	require.NoError(t, err)
	require.Contains(t, string(content), `name = "mylib"`)
	require.Contains(t, string(content), "root_manifest_hash")
}

func TestResolveWorkspaceReusesFreshLockfile(t *testing.T) {
	appDir := pathDepWorkspace(t)

	s, err := NewSession(appDir)
	require.NoError(t, err)
	_, _, err = s.ResolveWorkspace(false)
	require.NoError(t, err)

	lock1, err := os.ReadFile(filepath.Join(appDir, "Harbour.lock"))
	require.NoError(t, err)

	// whitespace edit: the lockfile must not be rewritten
	manifestPath := filepath.Join(appDir, "Harbour.toml")
	content, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	write(t, manifestPath, string(content)+"\n# comment\n")

	s2, err := NewSession(appDir)
	require.NoError(t, err)
	res, _, err := s2.ResolveWorkspace(false)
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())

	lock2, err := os.ReadFile(filepath.Join(appDir, "Harbour.lock"))
	require.NoError(t, err)
	require.Equal(t, string(lock1), string(lock2))
}

func TestResolveWorkspaceLockedRefusesChange(t *testing.T) {
	appDir := pathDepWorkspace(t)

	s, err := NewSession(appDir)
	require.NoError(t, err)
	_, _, err = s.ResolveWorkspace(false)
	require.NoError(t, err)

	// grow the dependency set: with --locked this must refuse
	write(t, filepath.Join(filepath.Dir(appDir), "other", "Harbour.toml"), `
[package]
name = "other"
version = "1.0.0"
`)
	manifestPath := filepath.Join(appDir, "Harbour.toml")
	content, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	edited := strings.Replace(string(content),
		"[dependencies]",
		"[dependencies]\nother = { path = \"../other\", version = \"=1.0.0\" }",
		1)
	write(t, manifestPath, edited)

	s2, err := NewSession(appDir)
	require.NoError(t, err)
	_, _, err = s2.ResolveWorkspace(true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "--locked")
	require.Contains(t, err.Error(), "harbour update")

	// without --locked the resolve grows
	s3, err := NewSession(appDir)
	require.NoError(t, err)
	res, _, err := s3.ResolveWorkspace(false)
	require.NoError(t, err)
	require.Equal(t, 3, res.Len())
}

func TestUpdateRewritesLockfile(t *testing.T) {
	appDir := pathDepWorkspace(t)
	s, err := NewSession(appDir)
	require.NoError(t, err)

	res, err := s.Update()
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())
	_, err = os.Stat(filepath.Join(appDir, "Harbour.lock"))
	require.NoError(t, err)
}

func TestVirtualWorkspaceResolve(t *testing.T) {
	base := t.TempDir()
	write(t, filepath.Join(base, "Harbour.toml"), `
[workspace]
members = ["pkgs/*"]
`)
	write(t, filepath.Join(base, "pkgs", "alpha", "Harbour.toml"), `
[package]
name = "alpha"
version = "0.1.0"

[dependencies]
beta = { path = "../beta", version = "=0.2.0" }
`)
	write(t, filepath.Join(base, "pkgs", "beta", "Harbour.toml"), `
[package]
name = "beta"
version = "0.2.0"
`)

	s, err := NewSession(base)
	require.NoError(t, err)
	res, rootPkg, err := s.ResolveWorkspace(false)
	require.NoError(t, err)
	require.Equal(t, "workspace-root", rootPkg.Name())

	// synthetic root + two members
	require.Equal(t, 3, res.Len())
	_, ok := res.GetPackageByName("alpha")
	require.True(t, ok)
	_, ok = res.GetPackageByName("beta")
	require.True(t, ok)
}

func TestBuildPlanOnly(t *testing.T) {
	if !hasCompiler() {
		t.Skip("no C compiler on PATH")
	}
	appDir := pathDepWorkspace(t)
	s, err := NewSession(appDir)
	require.NoError(t, err)

	result, err := s.Build(BuildOptions{PlanOnly: true})
	require.NoError(t, err)
	require.Equal(t, 2, result.Plan.CompileCount())
	require.Equal(t, []string{"mylib 1.0.0", "app 0.1.0"}, result.Plan.BuildOrder)
	require.Empty(t, result.Artifacts)
}

func TestBuildEndToEndIncremental(t *testing.T) {
	if !hasCompiler() {
		t.Skip("no C compiler on PATH")
	}
	appDir := pathDepWorkspace(t)
	s, err := NewSession(appDir)
	require.NoError(t, err)

	result, err := s.Build(BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, result.Stats.Compiled)

	// the dependency's archive and the root binary exist
	require.FileExists(t, filepath.Join(appDir, ".harbour", "deps", "mylib-1.0.0", "lib", "libmylib.a"))
	foundExe := false
	for _, a := range result.Artifacts {
		if a.Target == "app" {
			foundExe = true
			require.FileExists(t, a.Path)
		}
	}
	require.True(t, foundExe)

	// an unchanged rebuild performs zero compiles
	s2, err := NewSession(appDir)
	require.NoError(t, err)
	again, err := s2.Build(BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, again.Stats.Compiled)
	require.Equal(t, 2, again.Stats.CompileSkipped)
}

func hasCompiler() bool {
	for _, cc := range []string{"gcc", "clang", "cc"} {
		if _, err := exec.LookPath(cc); err == nil {
			return true
		}
	}
	return false
}

func TestAddRemoveDependency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Harbour.toml")
	write(t, path, `
[package]
name = "app"
version = "0.1.0"

[targets.app]
kind = "exe"
sources = ["src/main.c"]
`)

	require.NoError(t, AddDependency(path, DepEdit{Name: "zlib", Version: "^1.3"}))
	m, err := manifest.Load(path)
	require.NoError(t, err)
	require.Contains(t, m.Dependencies, "zlib")
	require.Equal(t, "^1.3", m.Dependencies["zlib"].Version)

	require.NoError(t, AddDependency(path, DepEdit{Name: "mylib", Path: "../mylib"}))
	m, err = manifest.Load(path)
	require.NoError(t, err)
	require.Equal(t, "../mylib", m.Dependencies["mylib"].Path)

	require.NoError(t, RemoveDependency(path, "zlib"))
	m, err = manifest.Load(path)
	require.NoError(t, err)
	require.NotContains(t, m.Dependencies, "zlib")

	require.Error(t, RemoveDependency(path, "ghost"))
}

func TestAddDependencyDoesNotTouchLockfile(t *testing.T) {
	appDir := pathDepWorkspace(t)
	s, err := NewSession(appDir)
	require.NoError(t, err)
	_, _, err = s.ResolveWorkspace(false)
	require.NoError(t, err)

	lockBefore, err := os.ReadFile(filepath.Join(appDir, "Harbour.lock"))
	require.NoError(t, err)

	require.NoError(t, AddDependency(filepath.Join(appDir, "Harbour.toml"), DepEdit{Name: "zlib", Version: "^1.3"}))

	lockAfter, err := os.ReadFile(filepath.Join(appDir, "Harbour.lock"))
	require.NoError(t, err)
	require.Equal(t, string(lockBefore), string(lockAfter))

	// freshness detection now reports stale
	ws, err := workspace.Open(appDir)
	require.NoError(t, err)
	fresh, _, err := lockfileState(ws)
	require.NoError(t, err)
	require.False(t, fresh)
}
