// Package ops implements the operations the CLI collaborator drives:
// resolve, build, update, and manifest edits. Each operation wires the
// source cache, resolver, planner, and executor together.
package ops

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/harbourpkg/harbour/internal/config"
	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/registry"
	"github.com/harbourpkg/harbour/internal/resolver"
	"github.com/harbourpkg/harbour/internal/source"
	"github.com/harbourpkg/harbour/internal/vcpkg"
	"github.com/harbourpkg/harbour/internal/workspace"
)

// Session holds the per-invocation state: workspace, config tiers, and
// the source cache with all sources registered.
type Session struct {
	WS           *workspace.Workspace
	Config       *config.Config
	ToolchainCfg *config.ToolchainConfig
	Cache        *source.Cache

	registries []*registry.Source
	vcpkgSrc   *vcpkg.Source
}

// NewSession opens the workspace governing path and wires the sources.
func NewSession(path string) (*Session, error) {
	ws, err := workspace.Open(path)
	if err != nil {
		return nil, err
	}
	return NewSessionFor(ws)
}

// NewSessionFor wires a session over an already-opened workspace.
func NewSessionFor(ws *workspace.Workspace) (*Session, error) {
	cfg, err := config.Load(ws.Root())
	if err != nil {
		return nil, err
	}
	toolchainCfg, err := config.LoadToolchain(ws.Root())
	if err != nil {
		return nil, err
	}

	cacheDir := config.CacheDir()
	s := &Session{
		WS:           ws,
		Config:       cfg,
		ToolchainCfg: toolchainCfg,
		Cache: source.NewCache(
			source.NewPathSource(),
			source.NewGitSource(cacheDir, cfg.Net),
		),
	}

	for _, url := range s.registryURLs() {
		sid, err := core.ForRegistry(url)
		if err != nil {
			return nil, err
		}
		reg := registry.New(url, cacheDir, sid, cfg.Net)
		s.registries = append(s.registries, reg)
		s.Cache.Add(reg)
	}

	if root, err := vcpkg.FindRoot(cfg.Vcpkg); err == nil {
		s.vcpkgSrc = vcpkg.New(root, cfg.Vcpkg.Triplet, cfg.Vcpkg.Baseline)
		s.Cache.Add(s.vcpkgSrc)
	} else if cfg.Vcpkg.Enabled {
		return nil, err
	}

	return s, nil
}

// registryURLs collects every registry URL mentioned across the
// workspace manifests, plus the default registry.
func (s *Session) registryURLs() []string {
	urls := map[string]bool{manifest.DefaultRegistryURL: true}

	collect := func(deps map[string]manifest.DependencySpec) {
		for _, spec := range deps {
			if spec.Registry != "" {
				urls[spec.Registry] = true
			}
		}
	}

	collect(s.WS.Manifest().Dependencies)
	if wsCfg := s.WS.Manifest().Workspace; wsCfg != nil {
		collect(wsCfg.Dependencies)
	}
	for _, m := range s.WS.Members() {
		collect(m.Package.Manifest.Dependencies)
	}

	out := make([]string, 0, len(urls))
	for url := range urls {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}

// rootSummary builds the resolution root. Single packages resolve as
// themselves; workspaces resolve through a synthetic root depending on
// every member at its exact version.
func (s *Session) rootSummary() (core.Summary, *manifest.Package, error) {
	if pkg := s.WS.RootPackage(); pkg != nil && len(s.WS.Members()) == 0 {
		summary, err := pkg.Summary()
		return summary, pkg, err
	}

	rootSource, err := core.ForPath(s.WS.Root())
	if err != nil {
		return core.Summary{}, nil, err
	}

	name := s.WS.Manifest().Name()
	if name == "" {
		name = "workspace-root"
	}

	var deps []core.Dependency
	for _, m := range s.WS.Members() {
		memberSource, err := core.ForPath(m.Package.Root)
		if err != nil {
			return core.Summary{}, nil, err
		}
		dep, err := core.NewDependency(m.Package.Name(), memberSource).
			WithVersionReq("=" + m.Package.ID.Version().String())
		if err != nil {
			return core.Summary{}, nil, err
		}
		deps = append(deps, dep)
	}

	syntheticManifest := &manifest.Manifest{
		Package:      &manifest.PackageMeta{Name: name, Version: "0.0.0"},
		Dependencies: map[string]manifest.DependencySpec{},
		Profiles:     map[string]manifest.Profile{},
		Dir:          s.WS.Root(),
	}
	rootPkg, err := manifest.NewPackageWithSource(syntheticManifest, s.WS.Root(), rootSource)
	if err != nil {
		return core.Summary{}, nil, err
	}

	return core.NewSummary(rootPkg.ID, deps, ""), rootPkg, nil
}

// ResolveWorkspace loads the resolve from a fresh lockfile or recomputes
// it. With locked set, a stale lockfile refuses instead of re-resolving.
func (s *Session) ResolveWorkspace(locked bool) (*resolver.Resolve, *manifest.Package, error) {
	fresh, lf, err := lockfileState(s.WS)
	if err != nil {
		return nil, nil, err
	}

	_, rootPkg, err := s.rootSummary()
	if err != nil {
		return nil, nil, err
	}

	if fresh {
		logrus.Debugf("lockfile is fresh; reusing resolved graph")
		res, err := lf.ToResolve()
		if err != nil {
			return nil, nil, err
		}
		return res, rootPkg, nil
	}

	if locked {
		return nil, nil, diag.New("the lockfile would change but --locked was passed").
			WithSuggestion("run `harbour update` to refresh the lockfile").
			WithSuggestion("or drop --locked to let this command re-resolve")
	}

	res, err := s.freshResolve()
	if err != nil {
		return nil, nil, err
	}
	if err := saveLock(s.WS, res); err != nil {
		return nil, nil, err
	}
	return res, rootPkg, nil
}

// Update forces a fresh resolve and rewrites the lockfile.
func (s *Session) Update() (*resolver.Resolve, error) {
	res, err := s.freshResolve()
	if err != nil {
		return nil, err
	}
	if err := saveLock(s.WS, res); err != nil {
		return nil, err
	}
	logrus.Infof("updated %s (%d packages)", s.WS.LockfilePath(), res.Len())
	return res, nil
}

func (s *Session) freshResolve() (*resolver.Resolve, error) {
	rootSum, _, err := s.rootSummary()
	if err != nil {
		return nil, err
	}

	res, err := resolver.NewResolver(rootSum, s.Cache).Resolve()
	if err != nil {
		return nil, err
	}

	s.attachProvenance(res)
	return res, nil
}

// attachProvenance records registry and vcpkg provenance for lockfile
// reproducibility.
func (s *Session) attachProvenance(res *resolver.Resolve) {
	for _, id := range res.Packages() {
		switch {
		case id.SourceID().IsRegistry():
			for _, reg := range s.registries {
				if prov, ok := reg.Provenance(id); ok {
					res.SetRegistryProvenance(id, prov)
					break
				}
			}
		case id.SourceID().IsVcpkg():
			if s.vcpkgSrc != nil {
				if prov, ok := s.vcpkgSrc.Provenance(id); ok {
					res.SetVcpkgProvenance(id, prov)
				}
			}
		}
	}
}
