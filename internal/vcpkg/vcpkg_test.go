package vcpkg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUsageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage")
	require.NoError(t, os.WriteFile(path, []byte(`
zlib provides pkg-config modules:

    # A compression library
    zlib

Link with: -lz -lz
`), 0644))

	libs := parseUsageFile(path)
	require.Equal(t, []string{"z"}, libs)
}

func TestParseUsageFileMissing(t *testing.T) {
	require.Nil(t, parseUsageFile(filepath.Join(t.TempDir(), "nope")))
}

func TestScanLibDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"libzlib.a", "libz.so", "unrelated.txt", "zlib.lib"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	libs := scanLibDir(dir, "zlib")
	require.Contains(t, libs, "zlib")
	require.Contains(t, libs, "z")
	require.NotContains(t, libs, "unrelated.txt")
}

func TestSemVersionCoercion(t *testing.T) {
	v, err := semVersion(portMeta{Version: "1.3.1"})
	require.NoError(t, err)
	require.Equal(t, "1.3.1", v.String())

	v, err = semVersion(portMeta{Version: "1.3.1", VersionSem: "1.3.2"})
	require.NoError(t, err)
	require.Equal(t, "1.3.2", v.String(), "version-semver wins when present")

	_, err = semVersion(portMeta{Version: "not a version at all"})
	require.Error(t, err)
}

func TestSyntheticManifestSurface(t *testing.T) {
	s := New(t.TempDir(), "x64-linux", "")
	m := s.syntheticManifest("zlib", "1.3.1", []string{"z"})

	require.Equal(t, "zlib", m.Name())
	target := m.Targets[0]
	require.True(t, target.Kind.IsLibrary())
	require.False(t, target.Kind.IsLinkable(), "vcpkg targets are header-only; libs ride the public surface")
	require.Len(t, target.Surface.Link.Public.Libs, 1)
	require.Contains(t, target.Surface.Compile.Public.IncludeDirs[0], filepath.Join("installed", "x64-linux", "include"))
}

func TestDefaultTriplet(t *testing.T) {
	got := DefaultTriplet()
	require.NotEmpty(t, got)
	require.Contains(t, got, "-")
}
