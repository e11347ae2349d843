package build

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/resolver"
	"github.com/harbourpkg/harbour/internal/source"
)

// Step is one unit of work in a plan. Compile steps run in parallel;
// everything else runs sequentially in plan order.
type Step interface {
	// StepPackage names the owning package for error prefixes.
	StepPackage() string
}

// CompileStep compiles one translation unit.
type CompileStep struct {
	Source  string
	Output  string
	Package string
	Target  string

	IncludeDirs []string
	Defines     []manifest.Define
	Cflags      []string
	Lang        manifest.Language

	// Headers are the target's declared public headers; they feed the
	// compile fingerprint as tracked dependencies.
	Headers []string
}

func (s CompileStep) StepPackage() string { return s.Package }

// ArchiveStep creates a static library from objects.
type ArchiveStep struct {
	Objects []string
	Output  string
	Package string
	Target  string

	// Abi keys the cached artifact.
	Abi string
}

func (s ArchiveStep) StepPackage() string { return s.Package }

// LinkStep links objects into an executable or shared library.
type LinkStep struct {
	Objects []string
	Output  string
	Package string
	Target  string
	Kind    manifest.TargetKind

	LibDirs []string
	// Libs carries rendered library flags (-lX, -framework X, paths);
	// the executor splits them back apart.
	Libs    []string
	Ldflags []string

	// UseCxxLinker selects the C++ driver; static libraries never do.
	UseCxxLinker bool

	Abi string
}

func (s LinkStep) StepPackage() string { return s.Package }

// CMakeStep configures and builds an external CMake project.
type CMakeStep struct {
	SourceDir string
	BuildDir  string
	Args      []string
	Targets   []string
	Package   string
	Target    string
}

func (s CMakeStep) StepPackage() string { return s.Package }

// MesonStep configures and builds an external Meson project.
type MesonStep struct {
	SourceDir string
	BuildDir  string
	Options   []string
	Targets   []string
	Package   string
	Target    string
}

func (s MesonStep) StepPackage() string { return s.Package }

// CustomStep runs one structured custom command.
type CustomStep struct {
	Program string
	Args    []string
	Cwd     string
	Env     map[string]string
	Outputs []string
	Inputs  []string
	Package string
	Target  string
}

func (s CustomStep) StepPackage() string { return s.Package }

// Plan is the ordered work list for one build, plus the step subsets
// needed for compile_commands.json.
type Plan struct {
	Steps        []Step
	CompileSteps []CompileStep
	LinkSteps    []LinkStep

	// BuildOrder is the topological package order as "name version"
	// strings.
	BuildOrder []string
}

// CompileCount returns the number of compile steps.
func (p *Plan) CompileCount() int { return len(p.CompileSteps) }

// LinkCount returns the number of link/archive steps.
func (p *Plan) LinkCount() int { return len(p.LinkSteps) }

// NewPlan builds the plan for the resolved graph. Root packages build
// into the output dir (per-package subdirs when there are several);
// dependencies build into deps-dir/<name>-<version>. targetFilter, when
// non-empty, restricts which root targets build; dependencies always
// build in full.
func NewPlan(
	ctx *Context,
	resolve *resolver.Resolve,
	cache *source.Cache,
	sr *SurfaceResolver,
	rootPkgs []core.PackageId,
	targetFilter []string,
) (*Plan, error) {
	if sr == nil {
		sr = NewSurfaceResolver(resolve, ctx.Platform)
	}
	if cache != nil {
		if err := sr.LoadPackages(cache); err != nil {
			return nil, err
		}
	}

	plan := &Plan{}
	for _, id := range resolve.TopologicalOrder() {
		plan.BuildOrder = append(plan.BuildOrder, fmt.Sprintf("%s %s", id.Name(), id.Version()))
	}

	rootSet := map[core.PackageId]bool{}
	for _, id := range rootPkgs {
		rootSet[id] = true
	}

	for _, id := range resolve.TopologicalOrder() {
		pkg := sr.Package(id)
		if pkg == nil {
			return nil, diag.New("package not loaded: %s", id)
		}

		isRoot := rootSet[id]
		for i := range pkg.Targets() {
			target := &pkg.Targets()[i]

			if isRoot && len(targetFilter) > 0 && !contains(targetFilter, target.Name) {
				continue
			}

			outDir := ctx.targetOutputDir(id, isRoot, len(rootPkgs))
			if err := planTarget(ctx, sr, plan, id, pkg, target, outDir); err != nil {
				return nil, err
			}
		}
	}

	return plan, nil
}

// targetOutputDir picks where a package's artifacts land.
func (c *Context) targetOutputDir(id core.PackageId, isRoot bool, rootCount int) string {
	if isRoot {
		if rootCount > 1 {
			return filepath.Join(c.OutputDir, id.Name())
		}
		return c.OutputDir
	}
	return filepath.Join(c.DepsDir, fmt.Sprintf("%s-%s", id.Name(), id.Version()))
}

func planTarget(
	ctx *Context,
	sr *SurfaceResolver,
	plan *Plan,
	id core.PackageId,
	pkg *manifest.Package,
	target *manifest.Target,
	outDir string,
) error {
	recipe := target.Recipe
	switch {
	case recipe != nil && recipe.Kind == manifest.RecipeCMake:
		srcDir := pkg.Root
		if recipe.SourceDir != "" {
			srcDir = filepath.Join(pkg.Root, recipe.SourceDir)
		}
		plan.Steps = append(plan.Steps, CMakeStep{
			SourceDir: srcDir,
			BuildDir:  filepath.Join(outDir, "cmake-build"),
			Args:      recipe.Args,
			Targets:   recipe.Targets,
			Package:   id.Name(),
			Target:    target.Name,
		})
		return nil

	case recipe != nil && recipe.Kind == manifest.RecipeMeson:
		srcDir := pkg.Root
		if recipe.SourceDir != "" {
			srcDir = filepath.Join(pkg.Root, recipe.SourceDir)
		}
		plan.Steps = append(plan.Steps, MesonStep{
			SourceDir: srcDir,
			BuildDir:  filepath.Join(outDir, "meson-build"),
			Options:   recipe.Options,
			Targets:   recipe.Targets,
			Package:   id.Name(),
			Target:    target.Name,
		})
		return nil

	case recipe != nil && recipe.Kind == manifest.RecipeCustom:
		for _, cmd := range recipe.Steps {
			cwd := pkg.Root
			if cmd.Cwd != "" {
				cwd = filepath.Join(pkg.Root, cmd.Cwd)
			}
			outputs := make([]string, 0, len(cmd.Outputs))
			for _, o := range cmd.Outputs {
				outputs = append(outputs, filepath.Join(pkg.Root, o))
			}
			inputs := make([]string, 0, len(cmd.Inputs))
			for _, in := range cmd.Inputs {
				inputs = append(inputs, filepath.Join(pkg.Root, in))
			}
			plan.Steps = append(plan.Steps, CustomStep{
				Program: cmd.Program,
				Args:    cmd.Args,
				Cwd:     cwd,
				Env:     cmd.Env,
				Outputs: outputs,
				Inputs:  inputs,
				Package: id.Name(),
				Target:  target.Name,
			})
		}
		return nil
	}

	// native recipe: header-only targets have no steps
	if target.Kind == manifest.KindHeaderOnly {
		logrus.Debugf("skipping header-only target %s of %s", target.Name, id.Name())
		return nil
	}

	compileSurface, err := sr.CompileSurface(id, target)
	if err != nil {
		return err
	}
	linkSurface, err := sr.LinkSurface(id, target, ctx.DepsDir)
	if err != nil {
		return err
	}

	sources, err := globFiles(pkg.Root, target.Sources)
	if err != nil {
		return err
	}

	if target.Lang == manifest.LanguageC {
		for _, src := range sources {
			if manifest.IsCppSource(src) {
				return diag.New("target %q has lang=c but source %q has a C++ extension", target.Name, src).
					WithSuggestion("set lang = \"c++\" in [targets.%s]", target.Name)
			}
		}
	}

	headers, err := globFiles(pkg.Root, target.PublicHeaders)
	if err != nil {
		return err
	}

	objDir := filepath.Join(outDir, "obj", target.Name)
	objExt := ctx.Toolchain.ObjectExtension()

	var objects []string
	for _, src := range sources {
		rel, err := filepath.Rel(pkg.Root, src)
		if err != nil {
			rel = filepath.Base(src)
		}
		output := filepath.Join(objDir, rel+"."+objExt)
		objects = append(objects, output)

		step := CompileStep{
			Source:      src,
			Output:      output,
			Package:     id.Name(),
			Target:      target.Name,
			IncludeDirs: compileSurface.IncludeDirs,
			Defines:     compileSurface.Defines,
			Cflags:      compileSurface.Cflags,
			Lang:        target.Lang,
			Headers:     headers,
		}
		plan.Steps = append(plan.Steps, step)
		plan.CompileSteps = append(plan.CompileSteps, step)
	}

	if len(objects) == 0 {
		return nil
	}

	binDir := filepath.Join(outDir, "bin")
	libDir := filepath.Join(outDir, "lib")
	outputDir := libDir
	if target.Kind == manifest.KindExe {
		outputDir = binDir
	}
	output := filepath.Join(outputDir, target.OutputFilename(ctx.OS()))

	identity := ctx.targetAbi(target)

	if target.Kind == manifest.KindStaticLib {
		plan.Steps = append(plan.Steps, ArchiveStep{
			Objects: objects,
			Output:  output,
			Package: id.Name(),
			Target:  target.Name,
			Abi:     identity,
		})
	}

	// exe/sharedlib link with the C++ driver when the target is C++;
	// static libs always go through the archiver
	useCxx := false
	if target.Kind == manifest.KindExe || target.Kind == manifest.KindSharedLib {
		useCxx = target.RequiresCpp()
	}

	linkStep := LinkStep{
		Objects:      objects,
		Output:       output,
		Package:      id.Name(),
		Target:       target.Name,
		Kind:         target.Kind,
		LibDirs:      linkSurface.LibDirs,
		Libs:         linkLibFlags(linkSurface),
		Ldflags:      linkSurface.Ldflags,
		UseCxxLinker: useCxx,
		Abi:          identity,
	}
	if target.Kind != manifest.KindStaticLib {
		plan.Steps = append(plan.Steps, linkStep)
	}
	plan.LinkSteps = append(plan.LinkSteps, linkStep)
	return nil
}

// linkLibFlags renders the library portion of the link surface: built dep
// libraries first (dependencies before dependents), then named libs,
// frameworks, and groups.
func linkLibFlags(surface *EffectiveLink) []string {
	var flags []string
	flags = append(flags, surface.DepLibs...)
	for _, lib := range surface.Libs {
		flags = append(flags, lib.Flags()...)
	}
	for _, fw := range surface.Frameworks {
		flags = append(flags, "-framework", fw)
	}
	for _, g := range surface.Groups {
		flags = append(flags, groupFlags(g)...)
	}
	return flags
}

// targetAbi computes the ABI fingerprint keying this target's artifact.
func (c *Context) targetAbi(target *manifest.Target) string {
	identity := newTargetIdentity(c, target)
	return identity.Fingerprint()
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// DescribeSteps summarizes the plan for logs.
func (p *Plan) DescribeSteps() string {
	counts := map[string]int{}
	for _, s := range p.Steps {
		switch s.(type) {
		case CompileStep:
			counts["compile"]++
		case ArchiveStep:
			counts["archive"]++
		case LinkStep:
			counts["link"]++
		case CMakeStep:
			counts["cmake"]++
		case MesonStep:
			counts["meson"]++
		case CustomStep:
			counts["custom"]++
		}
	}
	var parts []string
	for _, kind := range []string{"compile", "archive", "link", "cmake", "meson", "custom"} {
		if counts[kind] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[kind], kind))
		}
	}
	if len(parts) == 0 {
		return "empty plan"
	}
	return strings.Join(parts, ", ")
}
