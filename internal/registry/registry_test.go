package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShimPath(t *testing.T) {
	p, err := ShimPath("zlib", "1.3.1")
	require.NoError(t, err)
	require.Equal(t, "z/zlib/1.3.1.toml", p)

	p, err = ShimPath("sqlite", "3.45.0")
	require.NoError(t, err)
	require.Equal(t, "s/sqlite/3.45.0.toml", p)

	_, err = ShimPath("Not-Lower", "1.0.0")
	require.Error(t, err)
}

func writeShim(t *testing.T, content string) *Shim {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shim.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	shim, err := LoadShim(path)
	require.NoError(t, err)
	return shim
}

func TestShimParseGit(t *testing.T) {
	shim := writeShim(t, `
[package]
name = "zlib"
version = "1.3.1"

[source.git]
url = "https://github.com/madler/zlib"
rev = "04f42ceca40f73e2978b50e93806c2a18c1281fc"
`)
	require.Equal(t, "zlib", shim.Package.Name)
	require.True(t, shim.IsGit())
	require.Empty(t, shim.Patches)
}

func TestShimParseTarball(t *testing.T) {
	shim := writeShim(t, `
[package]
name = "sqlite"
version = "3.45.0"

[source.tarball]
url = "https://example.com/sqlite-3.45.0.tar.gz"
sha256 = "abc123"
strip_prefix = "sqlite-3.45.0"
`)
	require.NotNil(t, shim.Source.Tarball)
	require.Equal(t, "sqlite-3.45.0", shim.Source.Tarball.StripPrefix)
}

func TestShimValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"short rev",
			`
[package]
name = "zlib"
version = "1.0.0"
[source.git]
url = "https://example.com/zlib"
rev = "abc123"
`,
			"full 40-char",
		},
		{
			"tarball without sha256",
			`
[package]
name = "zlib"
version = "1.0.0"
[source.tarball]
url = "https://example.com/zlib.tar.gz"
`,
			"requires sha256",
		},
		{
			"patches on tarball",
			`
[package]
name = "zlib"
version = "1.0.0"
[source.tarball]
url = "https://example.com/zlib.tar.gz"
sha256 = "abc"
[[patches]]
file = "fix.patch"
sha256 = "def"
`,
			"patches require git source",
		},
		{
			"no source",
			`
[package]
name = "zlib"
version = "1.0.0"
`,
			"declares no source",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "shim.toml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0644))
			_, err := LoadShim(path)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestShimSurfaceOverridePrecedence(t *testing.T) {
	shim := writeShim(t, `
[package]
name = "legacy"
version = "1.0.0"

[source.git]
url = "https://example.com/legacy"
rev = "04f42ceca40f73e2978b50e93806c2a18c1281fc"

[surface.compile.public]
include_dirs = ["old"]

[surface_override.compile.public]
include_dirs = ["include"]
defines = ["LEGACY_STATIC"]
`)
	eff := shim.EffectiveSurface()
	require.NotNil(t, eff)
	require.Equal(t, []string{"include"}, eff.Compile.Public.IncludeDirs)
}

func TestShimSourceHashChangesWithRev(t *testing.T) {
	a := writeShim(t, `
[package]
name = "zlib"
version = "1.0.0"
[source.git]
url = "https://example.com/zlib"
rev = "04f42ceca40f73e2978b50e93806c2a18c1281fc"
`)
	b := writeShim(t, `
[package]
name = "zlib"
version = "1.0.0"
[source.git]
url = "https://example.com/zlib"
rev = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
`)
	require.NotEqual(t, a.SourceHash(), b.SourceHash())
}

func TestSyntheticManifest(t *testing.T) {
	shim := writeShim(t, `
[package]
name = "bootstrap"
version = "0.9.0"

[source.git]
url = "https://example.com/bootstrap"
rev = "04f42ceca40f73e2978b50e93806c2a18c1281fc"

[surface_override.compile.public]
include_dirs = ["include"]
defines = ["BOOTSTRAP_STATIC=1"]
`)
	m := syntheticManifest(shim, shim.EffectiveSurface())
	require.Equal(t, "bootstrap", m.Name())
	require.Len(t, m.Targets, 1)
	require.Equal(t, "headeronly", m.Targets[0].Kind.String())
	require.Equal(t, []string{"include"}, m.Targets[0].Surface.Compile.Public.IncludeDirs)
	require.Equal(t, "BOOTSTRAP_STATIC", m.Targets[0].Surface.Compile.Public.Defines[0].Name)
}

func TestExtractSpecificVersion(t *testing.T) {
	require.Equal(t, "1.2.3", extractSpecificVersion("=1.2.3"))
	require.Equal(t, "1.2.3", extractSpecificVersion("1.2.3"))
	require.Equal(t, "", extractSpecificVersion("^1.2.3"))
	require.Equal(t, "", extractSpecificVersion("~1.2"))
	require.Equal(t, "", extractSpecificVersion(">=1.0"))
	require.Equal(t, "", extractSpecificVersion("*"))
	require.Equal(t, "", extractSpecificVersion("1.2"))
}

func TestVerifyPatchHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fix.patch")
	require.NoError(t, os.WriteFile(path, []byte("--- a\n+++ b\n"), 0644))

	require.Error(t, VerifyPatchHash(path, "0000"))
}
