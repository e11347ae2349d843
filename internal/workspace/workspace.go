// Package workspace discovers the workspace a command operates on: the
// root manifest, glob-discovered members, shared dependencies, and the
// canonical output/deps/lockfile locations.
package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// StateDirName is the per-workspace state directory holding build outputs,
// built dependency artifacts, and the fingerprint cache.
const StateDirName = ".harbour"

// LockfileName is the workspace lockfile.
const LockfileName = "Harbour.lock"

// Member is one discovered workspace member.
type Member struct {
	Package *manifest.Package

	// RelPath is the member directory relative to the workspace root,
	// with forward slashes; the member sort key.
	RelPath string
}

// Workspace is the root manifest plus its discovered members.
type Workspace struct {
	root     string
	manifest *manifest.Manifest
	rootPkg  *manifest.Package // nil for virtual workspaces
	members  []Member
}

// FindManifest ascends from cwd looking for a Harbour.toml (or the
// Harbor.toml alias) and returns its path.
func FindManifest(cwd string) (string, error) {
	dir, err := filepath.Abs(cwd)
	if err != nil {
		return "", err
	}
	for {
		if p := manifest.LocateIn(dir); p != "" {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", diag.New("no %s found in %s or any parent directory", manifest.Filename, cwd).
				WithSuggestion("run inside a harbour project, or create one with `harbour new`")
		}
		dir = parent
	}
}

// Open loads the workspace whose manifest governs path.
func Open(path string) (*Workspace, error) {
	manifestPath, err := FindManifest(path)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		root:     filepath.Dir(manifestPath),
		manifest: m,
	}

	if m.Package != nil {
		pkg, err := manifest.NewPackage(m, ws.root)
		if err != nil {
			return nil, err
		}
		ws.rootPkg = pkg
	}

	if m.Workspace != nil {
		if err := ws.discoverMembers(); err != nil {
			return nil, err
		}
		ws.warnMemberNameCollisions()
	}

	return ws, nil
}

func (w *Workspace) discoverMembers() error {
	cfg := w.manifest.Workspace

	seen := map[string]bool{}
	var rels []string
	for _, pattern := range cfg.Members {
		matches, err := doublestar.Glob(os.DirFS(w.root), pattern)
		if err != nil {
			return diag.New("invalid workspace member pattern %q", pattern).WithCause(err)
		}
		for _, rel := range matches {
			if excluded(rel, cfg.Exclude) {
				continue
			}
			abs := filepath.Join(w.root, filepath.FromSlash(rel))
			info, err := os.Stat(abs)
			if err != nil || !info.IsDir() {
				continue
			}
			if manifest.LocateIn(abs) == "" {
				continue
			}
			if !seen[rel] {
				seen[rel] = true
				rels = append(rels, rel)
			}
		}
	}
	// deterministic member order
	sort.Strings(rels)

	for _, rel := range rels {
		abs := filepath.Join(w.root, filepath.FromSlash(rel))
		m, err := manifest.Load(manifest.LocateIn(abs))
		if err != nil {
			return err
		}
		if err := w.applyWorkspaceDeps(m, rel); err != nil {
			return err
		}
		pkg, err := manifest.NewPackage(m, abs)
		if err != nil {
			return err
		}
		w.members = append(w.members, Member{Package: pkg, RelPath: rel})
	}
	return nil
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// applyWorkspaceDeps rewrites `{ workspace = true }` member dependencies
// to the workspace-level shared spec. Overriding version or source at the
// member is forbidden for inherited keys.
func (w *Workspace) applyWorkspaceDeps(m *manifest.Manifest, rel string) error {
	shared := w.manifest.Workspace.Dependencies
	for name, spec := range m.Dependencies {
		if !spec.Workspace {
			continue
		}
		wsSpec, ok := shared[name]
		if !ok {
			return diag.New("member %s inherits dependency %q but the workspace does not declare it", rel, name).
				WithSuggestion("add %q under [workspace.dependencies]", name)
		}
		if spec.Version != "" || spec.Path != "" || spec.Git != "" || spec.Registry != "" || spec.Vcpkg != "" {
			return diag.New("member %s overrides version/source of workspace dependency %q", rel, name).
				WithSuggestion("drop the override; the workspace spec is authoritative for inherited deps")
		}
		merged := wsSpec
		if spec.Optional {
			merged.Optional = true
		}
		if len(spec.Features) > 0 {
			merged.Features = append(append([]string(nil), merged.Features...), spec.Features...)
		}
		m.Dependencies[name] = merged
	}
	return nil
}

func (w *Workspace) warnMemberNameCollisions() {
	for name := range w.manifest.Workspace.Dependencies {
		for _, m := range w.members {
			if name == m.RelPath || strings.HasSuffix(m.RelPath, "/"+name) {
				logrus.Warnf("workspace dependency %q shares its name with member path %q; the dependency does NOT refer to the member", name, m.RelPath)
			}
		}
	}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// Manifest returns the root manifest.
func (w *Workspace) Manifest() *manifest.Manifest { return w.manifest }

// RootPackage returns the root package, or nil for virtual workspaces.
func (w *Workspace) RootPackage() *manifest.Package { return w.rootPkg }

// Members returns the discovered members, sorted by relative path.
func (w *Workspace) Members() []Member { return w.members }

// BuildPackages returns the packages a plain `harbour build` operates on:
// the workspace default-members if declared, else all members, else the
// root package.
func (w *Workspace) BuildPackages() []*manifest.Package {
	if w.manifest.Workspace != nil && len(w.members) > 0 {
		defaults := w.manifest.Workspace.DefaultMembers
		if len(defaults) > 0 {
			var out []*manifest.Package
			for _, m := range w.members {
				for _, d := range defaults {
					if m.RelPath == filepath.ToSlash(d) {
						out = append(out, m.Package)
					}
				}
			}
			if len(out) > 0 {
				return out
			}
		}
		out := make([]*manifest.Package, len(w.members))
		for i, m := range w.members {
			out[i] = m.Package
		}
		return out
	}
	if w.rootPkg != nil {
		return []*manifest.Package{w.rootPkg}
	}
	return nil
}

// OutputDir returns the build-output root (per-profile subtrees live
// beneath it).
func (w *Workspace) OutputDir() string {
	return filepath.Join(w.root, StateDirName, "target")
}

// DepsDir returns the built dependency artifact root.
func (w *Workspace) DepsDir() string {
	return filepath.Join(w.root, StateDirName, "deps")
}

// LockfilePath returns the workspace lockfile path.
func (w *Workspace) LockfilePath() string {
	return filepath.Join(w.root, LockfileName)
}

// FingerprintCachePath returns the persisted fingerprint cache path.
func (w *Workspace) FingerprintCachePath() string {
	return filepath.Join(w.root, StateDirName, "fingerprints.json")
}
