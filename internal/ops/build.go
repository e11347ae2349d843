package ops

import (
	"github.com/sirupsen/logrus"

	"github.com/harbourpkg/harbour/internal/build"
	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/resolver"
)

// BuildOptions configure one build invocation.
type BuildOptions struct {
	// Locked refuses to re-resolve when the lockfile is stale.
	Locked bool

	// Profile is the build profile name; empty means debug.
	Profile string

	// Jobs bounds parallel compiles; 0 uses host parallelism.
	Jobs int

	// Std overrides the C++ standard from the CLI.
	Std manifest.CppStd

	// TargetFilter restricts which root targets build.
	TargetFilter []string

	// PlanOnly stops after planning.
	PlanOnly bool

	// CompileCommandsPath, when set, emits compile_commands.json there.
	CompileCommandsPath string
}

// BuildResult is what a build produced.
type BuildResult struct {
	Plan      *build.Plan
	Artifacts []build.Artifact
	Stats     build.Stats
}

// Build resolves, plans, and executes. Compile-commands emission happens
// after planning; PlanOnly stops there, before execution.
func (s *Session) Build(opts BuildOptions) (*BuildResult, error) {
	profile := opts.Profile
	if profile == "" {
		profile = "debug"
	}

	res, rootPkg, err := s.ResolveWorkspace(opts.Locked)
	if err != nil {
		return nil, err
	}

	ctx, err := build.NewContext(s.WS, s.ToolchainCfg, s.Config, profile)
	if err != nil {
		return nil, err
	}
	if opts.Jobs > 0 {
		ctx.Jobs = opts.Jobs
	}

	// load every package once; the surface resolver owns the map
	sr := build.NewSurfaceResolver(res, ctx.Platform)
	sr.AddPackage(rootPkg)
	for _, pkg := range s.WS.BuildPackages() {
		sr.AddPackage(pkg)
	}
	if err := sr.LoadPackages(s.Cache); err != nil {
		return nil, err
	}

	cliStd := opts.Std
	if cliStd == 0 && s.Config.Build.CppStd != "" {
		if std, err := manifest.ParseCppStd(s.Config.Build.CppStd); err == nil {
			cliStd = std
		}
	}

	constraints, err := resolver.ComputeCppConstraints(res, sr.Packages(), s.WS.Manifest().Build, cliStd)
	if err != nil {
		return nil, err
	}
	ctx = ctx.WithCppConstraints(constraints)

	roots := s.rootPackageIDs(res, rootPkg)

	plan, err := build.NewPlan(ctx, res, s.Cache, sr, roots, opts.TargetFilter)
	if err != nil {
		return nil, err
	}
	logrus.Infof("planned %s", plan.DescribeSteps())

	result := &BuildResult{Plan: plan}

	if opts.CompileCommandsPath != "" {
		if err := plan.EmitCompileCommands(ctx, opts.CompileCommandsPath); err != nil {
			return nil, err
		}
	}
	if opts.PlanOnly {
		return result, nil
	}

	artifacts, stats, err := build.NewExecutor(ctx).Execute(plan)
	if err != nil {
		return nil, err
	}
	result.Artifacts = artifacts
	result.Stats = stats
	return result, nil
}

// rootPackageIDs maps the workspace's build packages onto resolved ids.
// The synthetic workspace root never plans; it has no targets.
func (s *Session) rootPackageIDs(res *resolver.Resolve, rootPkg *manifest.Package) []core.PackageId {
	buildPkgs := s.WS.BuildPackages()
	if len(buildPkgs) == 0 {
		return []core.PackageId{rootPkg.ID}
	}
	var out []core.PackageId
	for _, pkg := range buildPkgs {
		if res.Contains(pkg.ID) {
			out = append(out, pkg.ID)
		} else if id, ok := res.GetPackageByName(pkg.Name()); ok {
			out = append(out, id)
		}
	}
	return out
}
