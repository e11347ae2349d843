package build

import (
	"fmt"
	"path/filepath"

	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/resolver"
	"github.com/harbourpkg/harbour/internal/source"
)

// SurfaceSection names where a propagated value originated.
type SurfaceSection int

const (
	SectionCompilePublic SurfaceSection = iota
	SectionCompilePrivate
	SectionLinkPublic
	SectionLinkPrivate
)

func (s SurfaceSection) String() string {
	switch s {
	case SectionCompilePublic:
		return "surface.compile.public"
	case SectionCompilePrivate:
		return "surface.compile.private"
	case SectionLinkPublic:
		return "surface.link.public"
	case SectionLinkPrivate:
		return "surface.link.private"
	}
	return "surface.?"
}

// Origin is the provenance of one propagated value.
type Origin struct {
	Package core.PackageId
	Section SurfaceSection
}

func (o Origin) String() string {
	return fmt.Sprintf("%s (%s)", o.Package, o.Section)
}

// WithOrigin pairs a propagated value with where it came from.
type WithOrigin[T any] struct {
	Value  T
	Origin Origin
}

// EffectiveCompile is the compile environment actually handed to the
// compiler for one target: order-preserving, deduplicated.
type EffectiveCompile struct {
	IncludeDirs []string
	Defines     []manifest.Define
	Cflags      []string
}

// Flags renders the -I/-D/flag list.
func (e *EffectiveCompile) Flags() []string {
	var flags []string
	for _, dir := range e.IncludeDirs {
		flags = append(flags, "-I"+dir)
	}
	for _, d := range e.Defines {
		flags = append(flags, d.Flag("-D"))
	}
	flags = append(flags, e.Cflags...)
	return flags
}

// EffectiveLink is the link environment for one target. Order is
// functional and mirrors the propagation order.
type EffectiveLink struct {
	Libs       []manifest.LibRef
	LibDirs    []string
	Ldflags    []string
	Frameworks []string
	Groups     []manifest.LinkGroup

	// DepLibs are the built dependency library paths, dependencies
	// before dependents.
	DepLibs []string
}

// Flags renders the full linker tail: search paths, built dep libraries,
// named libraries, frameworks, groups, then free-form flags.
func (e *EffectiveLink) Flags() []string {
	var flags []string
	for _, dir := range e.LibDirs {
		flags = append(flags, "-L"+dir)
	}
	flags = append(flags, e.DepLibs...)
	for _, lib := range e.Libs {
		flags = append(flags, lib.Flags()...)
	}
	for _, fw := range e.Frameworks {
		flags = append(flags, "-framework", fw)
	}
	for _, g := range e.Groups {
		flags = append(flags, groupFlags(g)...)
	}
	flags = append(flags, e.Ldflags...)
	return flags
}

// groupFlags emits link-group wrappers verbatim; platform support varies
// and is warned about at parse time.
func groupFlags(g manifest.LinkGroup) []string {
	var libs []string
	for _, l := range g.Libs {
		libs = append(libs, "-l"+l)
	}
	switch g.Kind {
	case manifest.WholeArchive:
		return append(append([]string{"-Wl,--whole-archive"}, libs...), "-Wl,--no-whole-archive")
	case manifest.StartEndGroup:
		return append(append([]string{"-Wl,--start-group"}, libs...), "-Wl,--end-group")
	}
	return libs
}

// EffectiveCompileProvenance mirrors EffectiveCompile with per-value
// origins; it powers dependency-tree diagnostics.
type EffectiveCompileProvenance struct {
	IncludeDirs []WithOrigin[string]
	Defines     []WithOrigin[manifest.Define]
	Cflags      []WithOrigin[string]
}

// EffectiveLinkProvenance mirrors EffectiveLink with per-value origins.
type EffectiveLinkProvenance struct {
	Libs       []WithOrigin[manifest.LibRef]
	LibDirs    []WithOrigin[string]
	Ldflags    []WithOrigin[string]
	Frameworks []WithOrigin[string]
	DepLibs    []WithOrigin[string]
}

// SurfaceResolver computes effective surfaces by propagating public
// surfaces through the resolved graph with visibility filtering.
type SurfaceResolver struct {
	resolve  *resolver.Resolve
	platform manifest.TargetPlatform
	packages map[core.PackageId]*manifest.Package
}

// NewSurfaceResolver creates a resolver for one resolve and platform.
func NewSurfaceResolver(resolve *resolver.Resolve, platform manifest.TargetPlatform) *SurfaceResolver {
	return &SurfaceResolver{
		resolve:  resolve,
		platform: platform,
		packages: map[core.PackageId]*manifest.Package{},
	}
}

// LoadPackages materializes every resolved package through the source
// cache.
func (sr *SurfaceResolver) LoadPackages(cache *source.Cache) error {
	for _, id := range sr.resolve.Packages() {
		if _, ok := sr.packages[id]; ok {
			continue
		}
		pkg, err := cache.LoadPackage(id)
		if err != nil {
			return err
		}
		sr.packages[id] = pkg
	}
	return nil
}

// AddPackage registers an already-loaded package (workspace roots).
func (sr *SurfaceResolver) AddPackage(pkg *manifest.Package) {
	sr.packages[pkg.ID] = pkg
}

// Package returns a loaded package, or nil.
func (sr *SurfaceResolver) Package(id core.PackageId) *manifest.Package {
	return sr.packages[id]
}

// Packages returns the loaded package map.
func (sr *SurfaceResolver) Packages() map[core.PackageId]*manifest.Package {
	return sr.packages
}

// edgeVisibility returns how parent's default target propagates dep's
// surfaces onward.
func (sr *SurfaceResolver) edgeVisibility(parent, dep core.PackageId) (compile, link manifest.Visibility) {
	pkg := sr.packages[parent]
	if pkg == nil {
		return manifest.VisibilityPublic, manifest.VisibilityPublic
	}
	t := pkg.DefaultTarget()
	if t == nil || t.Deps == nil {
		return manifest.VisibilityPublic, manifest.VisibilityPublic
	}
	spec, ok := t.Deps[dep.Name()]
	if !ok {
		return manifest.VisibilityPublic, manifest.VisibilityPublic
	}
	return spec.Compile, spec.Link
}

// visibleDeps walks the graph from id collecting the dependencies whose
// surfaces reach it. Direct dependencies always contribute; transitive
// ones only while every intermediate edge is public in the requested
// dimension.
func (sr *SurfaceResolver) visibleDeps(id core.PackageId, link bool) map[core.PackageId]bool {
	visible := map[core.PackageId]bool{}
	var visit func(pkg core.PackageId, direct bool)
	visit = func(pkg core.PackageId, direct bool) {
		for _, dep := range sr.resolve.Deps(pkg) {
			if !direct {
				c, l := sr.edgeVisibility(pkg, dep)
				vis := c
				if link {
					vis = l
				}
				if vis == manifest.VisibilityPrivate {
					continue
				}
			}
			if visible[dep] {
				continue
			}
			visible[dep] = true
			visit(dep, false)
		}
	}
	visit(id, true)
	return visible
}

// orderedVisibleDeps filters the topological order down to the visible
// set, dependencies before dependents.
func (sr *SurfaceResolver) orderedVisibleDeps(id core.PackageId, link bool) []core.PackageId {
	visible := sr.visibleDeps(id, link)
	var out []core.PackageId
	for _, dep := range sr.resolve.TopologicalOrder() {
		if visible[dep] {
			out = append(out, dep)
		}
	}
	return out
}

// CompileSurface computes the effective compile surface for one target:
// the target's private requirements, its public requirements, then every
// visible transitive dependency's public requirements in topological
// order, deduplicated preserving first occurrence.
func (sr *SurfaceResolver) CompileSurface(id core.PackageId, target *manifest.Target) (*EffectiveCompile, error) {
	pkg := sr.packages[id]
	if pkg == nil {
		return nil, diag.New("package not loaded: %s", id)
	}

	eff := &EffectiveCompile{}
	resolved := target.Surface.Resolve(sr.platform)
	addCompile(eff, resolved.CompilePrivate, pkg.Root)
	addCompile(eff, resolved.CompilePublic, pkg.Root)

	for _, depID := range sr.orderedVisibleDeps(id, false) {
		depPkg := sr.packages[depID]
		if depPkg == nil {
			continue
		}
		depTarget := depPkg.DefaultTarget()
		if depTarget == nil {
			continue
		}
		depResolved := depTarget.Surface.Resolve(sr.platform)
		addCompile(eff, depResolved.CompilePublic, depPkg.Root)
	}

	eff.IncludeDirs = dedup(eff.IncludeDirs)
	eff.Cflags = dedup(eff.Cflags)
	eff.Defines = dedupDefines(eff.Defines)
	return eff, nil
}

func addCompile(eff *EffectiveCompile, reqs manifest.CompileReqs, root string) {
	eff.IncludeDirs = append(eff.IncludeDirs, manifest.AbsIncludeDirs(reqs, root)...)
	eff.Defines = append(eff.Defines, reqs.Defines...)
	eff.Cflags = append(eff.Cflags, reqs.Cflags...)
}

// LinkSurface computes the effective link surface: the target's private
// and public requirements, then for every visible dependency in
// topological order its built library (when linkable) followed by its
// public link requirements.
func (sr *SurfaceResolver) LinkSurface(id core.PackageId, target *manifest.Target, depsDir string) (*EffectiveLink, error) {
	pkg := sr.packages[id]
	if pkg == nil {
		return nil, diag.New("package not loaded: %s", id)
	}

	eff := &EffectiveLink{}
	resolved := target.Surface.Resolve(sr.platform)
	addLink(eff, resolved.LinkPrivate)
	addLink(eff, resolved.LinkPublic)

	for _, depID := range sr.orderedVisibleDeps(id, true) {
		depPkg := sr.packages[depID]
		if depPkg == nil {
			continue
		}
		depTarget := depPkg.DefaultTarget()
		if depTarget == nil {
			continue
		}

		if depTarget.Kind.IsLinkable() {
			libDir := filepath.Join(depsDir, fmt.Sprintf("%s-%s", depID.Name(), depID.Version()), "lib")
			eff.DepLibs = append(eff.DepLibs, filepath.Join(libDir, depTarget.OutputFilename(sr.platform.OS)))
			eff.LibDirs = append(eff.LibDirs, libDir)
		}

		depResolved := depTarget.Surface.Resolve(sr.platform)
		addLink(eff, depResolved.LinkPublic)
	}

	eff.LibDirs = dedup(eff.LibDirs)
	eff.Frameworks = dedup(eff.Frameworks)
	return eff, nil
}

func addLink(eff *EffectiveLink, reqs manifest.LinkReqs) {
	eff.Libs = append(eff.Libs, reqs.Libs...)
	eff.Ldflags = append(eff.Ldflags, reqs.Ldflags...)
	eff.Frameworks = append(eff.Frameworks, reqs.Frameworks...)
	eff.Groups = append(eff.Groups, reqs.Groups...)
}

// CompileSurfaceProvenance is CompileSurface with per-value origins,
// without deduplication so every contribution stays attributable.
func (sr *SurfaceResolver) CompileSurfaceProvenance(id core.PackageId, target *manifest.Target) (*EffectiveCompileProvenance, error) {
	pkg := sr.packages[id]
	if pkg == nil {
		return nil, diag.New("package not loaded: %s", id)
	}

	eff := &EffectiveCompileProvenance{}
	resolved := target.Surface.Resolve(sr.platform)
	addCompileProv(eff, resolved.CompilePrivate, pkg.Root, Origin{id, SectionCompilePrivate})
	addCompileProv(eff, resolved.CompilePublic, pkg.Root, Origin{id, SectionCompilePublic})

	for _, depID := range sr.orderedVisibleDeps(id, false) {
		depPkg := sr.packages[depID]
		if depPkg == nil {
			continue
		}
		depTarget := depPkg.DefaultTarget()
		if depTarget == nil {
			continue
		}
		depResolved := depTarget.Surface.Resolve(sr.platform)
		addCompileProv(eff, depResolved.CompilePublic, depPkg.Root, Origin{depID, SectionCompilePublic})
	}
	return eff, nil
}

func addCompileProv(eff *EffectiveCompileProvenance, reqs manifest.CompileReqs, root string, origin Origin) {
	for _, dir := range manifest.AbsIncludeDirs(reqs, root) {
		eff.IncludeDirs = append(eff.IncludeDirs, WithOrigin[string]{dir, origin})
	}
	for _, d := range reqs.Defines {
		eff.Defines = append(eff.Defines, WithOrigin[manifest.Define]{d, origin})
	}
	for _, f := range reqs.Cflags {
		eff.Cflags = append(eff.Cflags, WithOrigin[string]{f, origin})
	}
}

// LinkSurfaceProvenance is LinkSurface with per-value origins.
func (sr *SurfaceResolver) LinkSurfaceProvenance(id core.PackageId, target *manifest.Target, depsDir string) (*EffectiveLinkProvenance, error) {
	pkg := sr.packages[id]
	if pkg == nil {
		return nil, diag.New("package not loaded: %s", id)
	}

	eff := &EffectiveLinkProvenance{}
	resolved := target.Surface.Resolve(sr.platform)
	addLinkProv(eff, resolved.LinkPrivate, Origin{id, SectionLinkPrivate})
	addLinkProv(eff, resolved.LinkPublic, Origin{id, SectionLinkPublic})

	for _, depID := range sr.orderedVisibleDeps(id, true) {
		depPkg := sr.packages[depID]
		if depPkg == nil {
			continue
		}
		depTarget := depPkg.DefaultTarget()
		if depTarget == nil {
			continue
		}
		origin := Origin{depID, SectionLinkPublic}
		if depTarget.Kind.IsLinkable() {
			libDir := filepath.Join(depsDir, fmt.Sprintf("%s-%s", depID.Name(), depID.Version()), "lib")
			eff.DepLibs = append(eff.DepLibs, WithOrigin[string]{filepath.Join(libDir, depTarget.OutputFilename(sr.platform.OS)), origin})
			eff.LibDirs = append(eff.LibDirs, WithOrigin[string]{libDir, origin})
		}
		depResolved := depTarget.Surface.Resolve(sr.platform)
		addLinkProv(eff, depResolved.LinkPublic, origin)
	}
	return eff, nil
}

func addLinkProv(eff *EffectiveLinkProvenance, reqs manifest.LinkReqs, origin Origin) {
	for _, l := range reqs.Libs {
		eff.Libs = append(eff.Libs, WithOrigin[manifest.LibRef]{l, origin})
	}
	for _, f := range reqs.Ldflags {
		eff.Ldflags = append(eff.Ldflags, WithOrigin[string]{f, origin})
	}
	for _, f := range reqs.Frameworks {
		eff.Frameworks = append(eff.Frameworks, WithOrigin[string]{f, origin})
	}
}

// dedup removes duplicates preserving first occurrence.
func dedup(items []string) []string {
	seen := map[string]bool{}
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

func dedupDefines(defines []manifest.Define) []manifest.Define {
	seen := map[string]bool{}
	out := defines[:0]
	for _, d := range defines {
		key := d.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, d)
		}
	}
	return out
}
