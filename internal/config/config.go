// Package config loads harbour's two-tier configuration: the global
// ~/.harbour/config.toml overlaid by the project-local .harbour/config.toml
// (project wins key-by-key). A parallel pair of toolchain.toml files
// carries compiler overrides.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/OpenPeeDeeP/xdg"
	"github.com/imdario/mergo"
	"golang.org/x/xerrors"
)

// ConfigDirName is the per-user and per-project configuration directory.
const ConfigDirName = ".harbour"

// BuildSection is [build] in config.toml.
type BuildSection struct {
	Backend             string `toml:"backend"`
	Linkage             string `toml:"linkage"`
	Jobs                int    `toml:"jobs"`
	EmitCompileCommands bool   `toml:"emit_compile_commands"`
	CppStd              string `toml:"cpp_std"`
}

// FFISection is [ffi] in config.toml. Consumed by the binding-generation
// collaborator; the core only carries it.
type FFISection struct {
	BundleDir         string `toml:"bundle_dir"`
	IncludeTransitive bool   `toml:"include_transitive"`
	RpathRewrite      bool   `toml:"rpath_rewrite"`
}

// NetSection is [net] in config.toml.
type NetSection struct {
	// GitTimeout bounds git fetches, in seconds. 0 means no timeout.
	GitTimeout int `toml:"git_timeout"`

	// Offline suppresses all network access; cached state is used as-is.
	Offline bool `toml:"offline"`
}

// VcpkgSection is [vcpkg] in config.toml.
type VcpkgSection struct {
	Enabled             bool   `toml:"enabled"`
	Root                string `toml:"root"`
	Triplet             string `toml:"triplet"`
	Baseline            string `toml:"baseline"`
	HasCustomRegistries bool   `toml:"has_custom_registries"`
}

// Config is the merged configuration.
type Config struct {
	Build BuildSection `toml:"build"`
	FFI   FFISection   `toml:"ffi"`
	Net   NetSection   `toml:"net"`
	Vcpkg VcpkgSection `toml:"vcpkg"`
}

// ToolchainConfig is the [toolchain] section of toolchain.toml.
type ToolchainConfig struct {
	CC       string   `toml:"cc"`
	CXX      string   `toml:"cxx"`
	AR       string   `toml:"ar"`
	Target   string   `toml:"target"`
	Cflags   []string `toml:"cflags"`
	Cxxflags []string `toml:"cxxflags"`
	Ldflags  []string `toml:"ldflags"`
}

type toolchainFile struct {
	Toolchain ToolchainConfig `toml:"toolchain"`
}

// GlobalDir returns the per-user configuration directory (~/.harbour).
func GlobalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ConfigDirName
	}
	return filepath.Join(home, ConfigDirName)
}

// CacheDir returns the shared download cache root (registry indexes,
// fetched sources, git clones).
func CacheDir() string {
	x := xdg.New("harbourpkg", "harbour")
	return x.CacheHome()
}

// Load reads and merges the global and project config files. Missing files
// are treated as empty.
func Load(projectRoot string) (*Config, error) {
	global, err := readConfig(filepath.Join(GlobalDir(), "config.toml"))
	if err != nil {
		return nil, err
	}
	project, err := readConfig(filepath.Join(projectRoot, ConfigDirName, "config.toml"))
	if err != nil {
		return nil, err
	}

	// project keys win; unset project fields fall back to global
	if err := mergo.Merge(project, *global); err != nil {
		return nil, xerrors.Errorf("merge config tiers: %w", err)
	}
	return project, nil
}

// LoadToolchain reads and merges the global and project toolchain files.
func LoadToolchain(projectRoot string) (*ToolchainConfig, error) {
	global, err := readToolchain(filepath.Join(GlobalDir(), "toolchain.toml"))
	if err != nil {
		return nil, err
	}
	project, err := readToolchain(filepath.Join(projectRoot, ConfigDirName, "toolchain.toml"))
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(project, *global); err != nil {
		return nil, xerrors.Errorf("merge toolchain tiers: %w", err)
	}
	return project, nil
}

func readConfig(path string) (*Config, error) {
	var cfg Config
	if err := decodeTOML(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readToolchain(path string) (*ToolchainConfig, error) {
	var f toolchainFile
	if err := decodeTOML(path, &f); err != nil {
		return nil, err
	}
	return &f.Toolchain, nil
}

func decodeTOML(path string, v interface{}) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Errorf("read %s: %w", path, err)
	}
	if err := toml.Unmarshal(content, v); err != nil {
		return xerrors.Errorf("parse %s: %w", path, err)
	}
	return nil
}
