// Package build turns a Resolve plus loaded packages into an executed
// build: effective surfaces, a topologically ordered plan, and an
// incremental executor over the fingerprint cache.
package build

import (
	"path/filepath"

	"github.com/harbourpkg/harbour/internal/abi"
	"github.com/harbourpkg/harbour/internal/config"
	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/resolver"
	"github.com/harbourpkg/harbour/internal/toolchain"
	"github.com/harbourpkg/harbour/internal/workspace"
)

// Context carries everything a build needs besides the plan itself:
// the toolchain, target identity, profile, and output locations.
type Context struct {
	Toolchain toolchain.Toolchain

	Triple   abi.TargetTriple
	Compiler abi.CompilerIdentity

	// Platform evaluates surface conditionals.
	Platform manifest.TargetPlatform

	Profile     manifest.Profile
	ProfileName string

	// Cxx is the graph-wide C++ configuration.
	Cxx toolchain.CxxOptions

	// OutputDir is the per-profile output root for workspace packages.
	OutputDir string

	// DepsDir holds built dependency artifacts.
	DepsDir string

	WorkspaceRoot string

	// FingerprintPath is where the incremental cache persists.
	FingerprintPath string

	// Jobs bounds the parallel compile phase; 0 means host parallelism.
	Jobs int
}

// NewContext assembles a build context for a workspace and profile.
func NewContext(ws *workspace.Workspace, toolchainCfg *config.ToolchainConfig, cfg *config.Config, profileName string) (*Context, error) {
	tc, identity, err := toolchain.Detect(toolchainCfg)
	if err != nil {
		return nil, err
	}

	triple := abi.HostTriple()
	if toolchainCfg != nil && toolchainCfg.Target != "" {
		if parsed, ok := abi.ParseTriple(toolchainCfg.Target); ok {
			triple = parsed
		}
	}

	platform := manifest.HostPlatform().WithCompiler(identity.Family)
	platform.Env = triple.Env

	var profile manifest.Profile
	if ws.Manifest() != nil {
		profile = ws.Manifest().ProfileNamed(profileName)
	}
	if toolchainCfg != nil {
		profile.Cflags = append(profile.Cflags, toolchainCfg.Cflags...)
		profile.Ldflags = append(profile.Ldflags, toolchainCfg.Ldflags...)
	}

	jobs := 0
	if cfg != nil {
		jobs = cfg.Build.Jobs
	}

	return &Context{
		Toolchain:       tc,
		Triple:          triple,
		Compiler:        identity,
		Platform:        platform,
		Profile:         profile,
		ProfileName:     profileName,
		OutputDir:       filepath.Join(ws.OutputDir(), profileName),
		DepsDir:         ws.DepsDir(),
		WorkspaceRoot:   ws.Root(),
		FingerprintPath: ws.FingerprintCachePath(),
		Jobs:            jobs,
	}, nil
}

// WithCppConstraints folds the computed constraints into the C++ options.
func (c *Context) WithCppConstraints(constraints resolver.CppConstraints) *Context {
	c.Cxx = toolchain.CxxOptions{
		Std:         constraints.EffectiveStd,
		Exceptions:  constraints.Exceptions,
		RTTI:        constraints.RTTI,
		Runtime:     constraints.CppRuntime,
		MsvcRuntime: constraints.MsvcRuntime,
		Debug:       !c.IsRelease(),
	}
	return c
}

// IsRelease reports whether this is a release-profile build.
func (c *Context) IsRelease() bool { return c.ProfileName == "release" }

// OS returns the target operating system.
func (c *Context) OS() string { return c.Triple.OS }

// ProfileCflags renders the profile's compile flags.
func (c *Context) ProfileCflags() []string {
	var flags []string
	if c.Profile.OptLevel != nil {
		flags = append(flags, "-O"+*c.Profile.OptLevel)
	}
	if c.Profile.Debug != nil && *c.Profile.Debug != "0" {
		flags = append(flags, "-g")
		if *c.Profile.Debug == "2" || *c.Profile.Debug == "full" {
			flags = append(flags, "-g3")
		}
	}
	for _, s := range c.Profile.Sanitizers {
		flags = append(flags, "-fsanitize="+s)
	}
	flags = append(flags, c.Profile.Cflags...)
	return flags
}

// ProfileLdflags renders the profile's link flags; sanitizers reach the
// linker too.
func (c *Context) ProfileLdflags() []string {
	var flags []string
	if c.Profile.Lto != nil && *c.Profile.Lto {
		flags = append(flags, "-flto")
	}
	for _, s := range c.Profile.Sanitizers {
		flags = append(flags, "-fsanitize="+s)
	}
	flags = append(flags, c.Profile.Ldflags...)
	return flags
}
