package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func singlePackage(t *testing.T) string {
	root := t.TempDir()
	write(t, filepath.Join(root, "Harbour.toml"), `
[package]
name = "app"
version = "1.0.0"

[dependencies]
lib = { path = "../lib" }

[targets.app]
kind = "exe"
sources = ["src/main.c"]
`)
	return root
}

func TestFindManifestAscends(t *testing.T) {
	root := singlePackage(t)
	nested := filepath.Join(root, "src", "deep")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := FindManifest(nested)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "Harbour.toml"), found)
}

func TestFindManifestAlias(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "Harbor.toml"), `
[package]
name = "aliased"
version = "1.0.0"
`)
	found, err := FindManifest(root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "Harbor.toml"), found)
}

func TestOpenSinglePackage(t *testing.T) {
	root := singlePackage(t)
	ws, err := Open(root)
	require.NoError(t, err)
	require.NotNil(t, ws.RootPackage())
	require.Equal(t, "app", ws.RootPackage().Name())
	require.Empty(t, ws.Members())
	require.Equal(t, filepath.Join(root, ".harbour", "target"), ws.OutputDir())
	require.Equal(t, filepath.Join(root, ".harbour", "deps"), ws.DepsDir())
	require.Equal(t, filepath.Join(root, "Harbour.lock"), ws.LockfilePath())
}

func virtualWorkspace(t *testing.T) string {
	root := t.TempDir()
	write(t, filepath.Join(root, "Harbour.toml"), `
[workspace]
members = ["packages/*"]
exclude = ["packages/skipme"]

[workspace.dependencies]
shared = { git = "https://github.com/example/shared", tag = "v2.0.0", version = "2.0.0" }
`)
	write(t, filepath.Join(root, "packages", "beta", "Harbour.toml"), `
[package]
name = "beta"
version = "0.1.0"
`)
	write(t, filepath.Join(root, "packages", "alpha", "Harbour.toml"), `
[package]
name = "alpha"
version = "0.1.0"

[dependencies]
shared = { workspace = true }
`)
	write(t, filepath.Join(root, "packages", "skipme", "Harbour.toml"), `
[package]
name = "skipme"
version = "0.1.0"
`)
	// a member-less directory must not become a member
	require.NoError(t, os.MkdirAll(filepath.Join(root, "packages", "nomanifest"), 0755))
	return root
}

func TestWorkspaceMemberDiscovery(t *testing.T) {
	ws, err := Open(virtualWorkspace(t))
	require.NoError(t, err)
	require.True(t, ws.Manifest().IsVirtualWorkspace())

	members := ws.Members()
	require.Len(t, members, 2)
	// deterministic: sorted by relative path
	require.Equal(t, "packages/alpha", members[0].RelPath)
	require.Equal(t, "packages/beta", members[1].RelPath)
}

func TestWorkspaceDepInheritance(t *testing.T) {
	ws, err := Open(virtualWorkspace(t))
	require.NoError(t, err)

	alpha := ws.Members()[0].Package
	spec := alpha.Manifest.Dependencies["shared"]
	require.Equal(t, "https://github.com/example/shared", spec.Git)
	require.Equal(t, "v2.0.0", spec.Tag)
}

func TestWorkspaceDepOverrideForbidden(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "Harbour.toml"), `
[workspace]
members = ["m"]

[workspace.dependencies]
shared = { version = "1.0" }
`)
	write(t, filepath.Join(root, "m", "Harbour.toml"), `
[package]
name = "m"
version = "0.1.0"

[dependencies]
shared = { workspace = true, version = "2.0" }
`)
	_, err := Open(root)
	require.Error(t, err)
	require.Contains(t, err.Error(), "overrides version/source")
}

func TestWorkspaceHashStable(t *testing.T) {
	root := singlePackage(t)
	ws, err := Open(root)
	require.NoError(t, err)
	h1, err := ws.Hash()
	require.NoError(t, err)

	// trailing whitespace and comments must not change the hash
	path := filepath.Join(root, "Harbour.toml")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	write(t, path, "# a comment\n\n"+string(content)+"\n\n   \n")

	ws2, err := Open(root)
	require.NoError(t, err)
	h2, err := ws2.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestWorkspaceHashChangesWithDeps(t *testing.T) {
	root := singlePackage(t)
	ws, err := Open(root)
	require.NoError(t, err)
	h1, err := ws.Hash()
	require.NoError(t, err)

	write(t, filepath.Join(root, "Harbour.toml"), `
[package]
name = "app"
version = "1.0.0"

[dependencies]
lib = { path = "../lib" }
newdep = { path = "../newdep" }

[targets.app]
kind = "exe"
sources = ["src/main.c"]
`)
	ws2, err := Open(root)
	require.NoError(t, err)
	h2, err := ws2.Hash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}
