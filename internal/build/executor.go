package build

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/toolchain"
)

// Artifact is one built output.
type Artifact struct {
	Path   string
	Target string
}

// Stats summarizes what an execution actually did.
type Stats struct {
	Compiled       int
	CompileSkipped int
	Linked         int
	LinkSkipped    int
}

// Executor runs a plan: compile steps fan out over a bounded worker
// pool, everything else executes sequentially in plan order. The
// fingerprint cache makes re-runs incremental.
type Executor struct {
	ctx   *Context
	cache *FingerprintCache
}

// NewExecutor creates an executor; the fingerprint cache loads from the
// context's configured path.
func NewExecutor(ctx *Context) *Executor {
	return &Executor{
		ctx:   ctx,
		cache: LoadFingerprintCache(ctx.FingerprintPath),
	}
}

// Execute runs the plan and returns the produced artifacts plus stats.
// A failure in the parallel compile phase aborts before the sequential
// phase; the cache persists only after full success.
func (e *Executor) Execute(plan *Plan) ([]Artifact, Stats, error) {
	jobs := e.ctx.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	var stats Stats

	// compile phase: fingerprints and skip decisions happen on the
	// driver, then the needed compiles fan out
	type pending struct {
		step CompileStep
		fp   CompileFingerprint
	}
	var needed []pending
	for _, step := range plan.CompileSteps {
		fp, err := e.compileFingerprint(step)
		if err != nil {
			return nil, stats, err
		}
		if !e.cache.NeedsCompile(step.Source, fp) {
			if _, statErr := os.Stat(step.Output); statErr == nil {
				logrus.Debugf("fresh: %s", step.Source)
				stats.CompileSkipped++
				continue
			}
		}
		needed = append(needed, pending{step, fp})
	}

	if len(needed) > 0 {
		logrus.Infof("compiling %d of %d files", len(needed), len(plan.CompileSteps))
		var eg errgroup.Group
		eg.SetLimit(jobs)
		for _, p := range needed {
			p := p
			eg.Go(func() error { return e.compile(p.step) })
		}
		if err := eg.Wait(); err != nil {
			return nil, stats, err
		}
		for _, p := range needed {
			e.cache.Compile[p.step.Source] = p.fp
			stats.Compiled++
		}
	}

	// sequential phase in plan order
	var artifacts []Artifact
	for _, step := range plan.Steps {
		switch s := step.(type) {
		case CompileStep:
			// handled above
		case ArchiveStep:
			artifact, skipped, err := e.archive(s)
			if err != nil {
				return nil, stats, err
			}
			if skipped {
				stats.LinkSkipped++
			} else {
				stats.Linked++
			}
			artifacts = append(artifacts, artifact)
		case LinkStep:
			artifact, skipped, err := e.link(s)
			if err != nil {
				return nil, stats, err
			}
			if skipped {
				stats.LinkSkipped++
			} else {
				stats.Linked++
			}
			artifacts = append(artifacts, artifact)
		case CMakeStep:
			if err := e.runCMake(s); err != nil {
				return nil, stats, err
			}
		case MesonStep:
			if err := e.runMeson(s); err != nil {
				return nil, stats, err
			}
		case CustomStep:
			if err := e.runCustom(s); err != nil {
				return nil, stats, err
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(e.ctx.FingerprintPath), 0755); err != nil {
		return nil, stats, err
	}
	if err := e.cache.Save(e.ctx.FingerprintPath); err != nil {
		return nil, stats, err
	}

	return artifacts, stats, nil
}

func (e *Executor) compileFlags(step CompileStep) []string {
	flags := e.ctx.ProfileCflags()
	for _, dir := range step.IncludeDirs {
		flags = append(flags, "-I"+dir)
	}
	for _, d := range step.Defines {
		flags = append(flags, d.Flag("-D"))
	}
	flags = append(flags, step.Cflags...)
	if step.Lang == manifest.LanguageCxx && e.ctx.Cxx.Std != 0 {
		flags = append(flags, "-std=c++"+e.ctx.Cxx.Std.FlagValue())
	}
	return flags
}

func (e *Executor) compileFingerprint(step CompileStep) (CompileFingerprint, error) {
	compiler := e.ctx.Toolchain.CompilerPath()
	if step.Lang == manifest.LanguageCxx {
		compiler = e.ctx.Toolchain.CxxCompilerPath()
	}
	return NewCompileFingerprint(step.Source, compiler, e.compileFlags(step), step.Headers)
}

func (e *Executor) compileSpec(step CompileStep) toolchain.CommandSpec {
	cflags := append(e.ctx.ProfileCflags(), step.Cflags...)
	input := toolchain.CompileInput{
		Source:      step.Source,
		Output:      step.Output,
		IncludeDirs: step.IncludeDirs,
		Defines:     step.Defines,
		Cflags:      cflags,
	}
	var cxx *toolchain.CxxOptions
	if step.Lang == manifest.LanguageCxx {
		opts := e.ctx.Cxx
		cxx = &opts
	}
	return e.ctx.Toolchain.CompileCommand(input, step.Lang, cxx)
}

func (e *Executor) compile(step CompileStep) error {
	if err := os.MkdirAll(filepath.Dir(step.Output), 0755); err != nil {
		return err
	}
	spec := e.compileSpec(step)
	logrus.Debugf("compile %s -> %s", step.Source, step.Output)
	if out, err := runSpec(spec, ""); err != nil {
		return diag.New("compilation failed for %s (package %s)", step.Source, step.Package).
			WithContext("%s", out).
			WithCause(err)
	}
	return nil
}

func (e *Executor) archive(step ArchiveStep) (Artifact, bool, error) {
	artifact := Artifact{Path: step.Output, Target: step.Target}

	flags := []string{"rcs"}
	fp, err := NewLinkFingerprint(step.Objects, nil, flags, step.Abi)
	if err != nil {
		return artifact, false, err
	}
	key := step.Package + "/" + step.Target
	if !e.cache.NeedsLink(key, fp) {
		if _, err := os.Stat(step.Output); err == nil {
			logrus.Debugf("fresh: %s", step.Output)
			return artifact, true, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(step.Output), 0755); err != nil {
		return artifact, false, err
	}

	spec := e.ctx.Toolchain.ArchiveCommand(toolchain.ArchiveInput{
		Objects: step.Objects,
		Output:  step.Output,
	})
	logrus.Debugf("archive %s", step.Output)
	if out, err := runSpec(spec, ""); err != nil {
		return artifact, false, diag.New("archiving failed for %s (package %s)", step.Output, step.Package).
			WithContext("%s", out).
			WithCause(err)
	}

	e.cache.Link[key] = fp
	return artifact, false, nil
}

func (e *Executor) link(step LinkStep) (Artifact, bool, error) {
	artifact := Artifact{Path: step.Output, Target: step.Target}

	libs, extraFlags, libFiles := SplitLinkFlags(step.Libs)
	ldflags := e.ctx.ProfileLdflags()
	ldflags = append(ldflags, step.Ldflags...)
	ldflags = append(ldflags, extraFlags...)

	allFlags := append(append([]string{}, libs...), ldflags...)
	fp, err := NewLinkFingerprint(step.Objects, libFiles, allFlags, step.Abi)
	if err != nil {
		return artifact, false, err
	}
	key := step.Package + "/" + step.Target
	if !e.cache.NeedsLink(key, fp) {
		if _, err := os.Stat(step.Output); err == nil {
			logrus.Debugf("fresh: %s", step.Output)
			return artifact, true, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(step.Output), 0755); err != nil {
		return artifact, false, err
	}

	input := toolchain.LinkInput{
		Objects:  step.Objects,
		Output:   step.Output,
		LibDirs:  step.LibDirs,
		LibFiles: libFiles,
		Libs:     libs,
		Ldflags:  ldflags,
	}

	driver := manifest.LanguageC
	if step.UseCxxLinker {
		driver = manifest.LanguageCxx
	}
	var cxx *toolchain.CxxOptions
	if step.UseCxxLinker {
		opts := e.ctx.Cxx
		cxx = &opts
	}

	var spec toolchain.CommandSpec
	if step.Kind == manifest.KindSharedLib {
		spec = e.ctx.Toolchain.LinkSharedCommand(input, driver, cxx)
	} else {
		spec = e.ctx.Toolchain.LinkExeCommand(input, driver, cxx)
	}

	logrus.Debugf("link %s", step.Output)
	if out, err := runSpec(spec, ""); err != nil {
		return artifact, false, diag.New("linking failed for %s (package %s)", step.Output, step.Package).
			WithContext("%s", out).
			WithCause(err)
	}

	e.cache.Link[key] = fp
	return artifact, false, nil
}

func (e *Executor) runCMake(step CMakeStep) error {
	if err := os.MkdirAll(step.BuildDir, 0755); err != nil {
		return err
	}

	logrus.Infof("configuring cmake for %s", step.Package)
	configure := append([]string{"-S", step.SourceDir, "-B", step.BuildDir}, step.Args...)
	if out, err := runSpec(toolchain.CommandSpec{Program: "cmake", Args: configure}, ""); err != nil {
		return diag.New("cmake configure failed for %s", step.Package).WithContext("%s", out).WithCause(err)
	}

	logrus.Infof("building cmake project for %s", step.Package)
	buildArgs := []string{"--build", step.BuildDir}
	for _, target := range step.Targets {
		buildArgs = append(buildArgs, "--target", target)
	}
	if out, err := runSpec(toolchain.CommandSpec{Program: "cmake", Args: buildArgs}, ""); err != nil {
		return diag.New("cmake build failed for %s", step.Package).WithContext("%s", out).WithCause(err)
	}
	return nil
}

func (e *Executor) runMeson(step MesonStep) error {
	if err := os.MkdirAll(step.BuildDir, 0755); err != nil {
		return err
	}

	logrus.Infof("configuring meson for %s", step.Package)
	setup := append([]string{"setup", step.BuildDir, step.SourceDir}, step.Options...)
	if out, err := runSpec(toolchain.CommandSpec{Program: "meson", Args: setup}, ""); err != nil {
		return diag.New("meson setup failed for %s", step.Package).WithContext("%s", out).WithCause(err)
	}

	compileArgs := []string{"compile", "-C", step.BuildDir}
	compileArgs = append(compileArgs, step.Targets...)
	if out, err := runSpec(toolchain.CommandSpec{Program: "meson", Args: compileArgs}, ""); err != nil {
		return diag.New("meson compile failed for %s", step.Package).WithContext("%s", out).WithCause(err)
	}
	return nil
}

func (e *Executor) runCustom(step CustomStep) error {
	logrus.Infof("running %s for %s", step.Program, step.Package)

	var env []string
	for k, v := range step.Env {
		env = append(env, k+"="+v)
	}
	spec := toolchain.CommandSpec{Program: step.Program, Args: step.Args, Env: env}
	if out, err := runSpec(spec, step.Cwd); err != nil {
		return diag.New("custom command %q failed for %s", step.Program, step.Package).
			WithContext("%s", out).
			WithCause(err)
	}
	return nil
}

// runSpec executes a command spec, returning combined output for error
// reporting.
func runSpec(spec toolchain.CommandSpec, cwd string) (string, error) {
	cmd := exec.Command(spec.Program, spec.Args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// SplitLinkFlags walks rendered library flags and separates bare library
// names (-lX), library files by suffix, and everything else, preserving
// order within each group. Framework pairs stay in the flag group.
func SplitLinkFlags(flags []string) (libs, extra, libFiles []string) {
	for i := 0; i < len(flags); i++ {
		flag := flags[i]

		if flag == "-framework" {
			if i+1 < len(flags) {
				extra = append(extra, flag, flags[i+1])
				i++
			}
			continue
		}

		if name, ok := strings.CutPrefix(flag, "-l"); ok {
			if name != "" {
				libs = append(libs, name)
			}
			continue
		}

		if hasLibSuffix(flag) {
			libFiles = append(libFiles, flag)
			continue
		}

		extra = append(extra, flag)
	}
	return libs, extra, libFiles
}

func hasLibSuffix(flag string) bool {
	for _, suffix := range []string{".lib", ".a", ".so", ".dylib", ".dll"} {
		if strings.HasSuffix(flag, suffix) {
			return true
		}
	}
	return false
}
