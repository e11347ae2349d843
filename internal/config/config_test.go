package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/imdario/mergo"
	"github.com/stretchr/testify/require"
)

func TestLoadProjectConfig(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ConfigDirName)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[build]
jobs = 4
emit_compile_commands = true

[net]
git_timeout = 30
`), 0644))

	cfg, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Build.Jobs)
	require.True(t, cfg.Build.EmitCompileCommands)
	require.Equal(t, 30, cfg.Net.GitTimeout)
	require.False(t, cfg.Net.Offline)
}

func TestLoadMissingFilesIsEmpty(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestTierMergeProjectWins(t *testing.T) {
	// exercise the merge semantics directly: project keys win, unset
	// project fields fall back to global
	project := &Config{}
	project.Build.Jobs = 8

	global := Config{}
	global.Build.Jobs = 2
	global.Net.GitTimeout = 60

	require.NoError(t, mergo.Merge(project, global))
	require.Equal(t, 8, project.Build.Jobs)
	require.Equal(t, 60, project.Net.GitTimeout)
}

func TestLoadToolchain(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ConfigDirName)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "toolchain.toml"), []byte(`
[toolchain]
cc = "/usr/bin/clang"
cxx = "/usr/bin/clang++"
ar = "/usr/bin/llvm-ar"
cflags = ["-fcolor-diagnostics"]
`), 0644))

	tc, err := LoadToolchain(root)
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/clang", tc.CC)
	require.Equal(t, []string{"-fcolor-diagnostics"}, tc.Cflags)
}
