package workspace

import (
	"encoding/json"
	"sort"

	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/hashutil"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// Hash returns the stable content hash over the workspace's
// resolution-affecting inputs: the root manifest's dependencies and
// target deps, each member's relative path and manifest hash, and the
// workspace-level shared dependencies. Whitespace and comments in the
// manifests do not change the hash.
func (w *Workspace) Hash() (string, error) {
	type memberEntry struct {
		RelativePath string `json:"relative_path"`
		Name         string `json:"name"`
		Hash         string `json:"hash"`
	}

	root, err := ManifestHash(w.manifest)
	if err != nil {
		return "", err
	}

	normalized := map[string]interface{}{"root": root}

	if len(w.members) > 0 {
		members := make([]memberEntry, 0, len(w.members))
		for _, m := range w.members {
			h, err := ManifestHash(m.Package.Manifest)
			if err != nil {
				return "", err
			}
			members = append(members, memberEntry{
				RelativePath: m.RelPath,
				Name:         m.Package.Name(),
				Hash:         h,
			})
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].RelativePath < members[j].RelativePath
		})
		normalized["members"] = members
	}

	if w.manifest.Workspace != nil && len(w.manifest.Workspace.Dependencies) > 0 {
		normalized["workspace_dependencies"] = normalizedDeps(w.manifest.Workspace.Dependencies)
	}

	return hashJSON(normalized)
}

// ManifestHash computes the normalized hash of one manifest's
// resolution-affecting fields: dependencies and target-level deps.
// Compile flags, surfaces, and profiles do not affect which packages
// resolve, so they are excluded.
func ManifestHash(m *manifest.Manifest) (string, error) {
	normalized := map[string]interface{}{
		"dependencies": normalizedDeps(m.Dependencies),
	}

	targetDeps := map[string]interface{}{}
	for _, t := range m.Targets {
		if len(t.Deps) == 0 {
			continue
		}
		type entry struct {
			Package string `json:"package"`
			Target  string `json:"target,omitempty"`
		}
		var entries []entry
		for pkg, spec := range t.Deps {
			entries = append(entries, entry{Package: pkg, Target: spec.Target})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Package < entries[j].Package })
		targetDeps[t.Name] = entries
	}
	if len(targetDeps) > 0 {
		normalized["target_deps"] = targetDeps
	}

	return hashJSON(normalized)
}

type normalizedDep struct {
	Version  string   `json:"version,omitempty"`
	Path     string   `json:"path,omitempty"`
	Git      string   `json:"git,omitempty"`
	Branch   string   `json:"branch,omitempty"`
	Tag      string   `json:"tag,omitempty"`
	Rev      string   `json:"rev,omitempty"`
	Registry string   `json:"registry,omitempty"`
	Vcpkg    string   `json:"vcpkg,omitempty"`
	Triplet  string   `json:"triplet,omitempty"`
	Optional bool     `json:"optional,omitempty"`
	Features []string `json:"features,omitempty"`
}

func normalizedDeps(deps map[string]manifest.DependencySpec) map[string]normalizedDep {
	out := make(map[string]normalizedDep, len(deps))
	for name, spec := range deps {
		out[name] = normalizedDep{
			Version:  spec.Version,
			Path:     spec.Path,
			Git:      spec.Git,
			Branch:   spec.Branch,
			Tag:      spec.Tag,
			Rev:      spec.Rev,
			Registry: spec.Registry,
			Vcpkg:    spec.Vcpkg,
			Triplet:  spec.Triplet,
			Optional: spec.Optional,
			Features: spec.Features,
		}
	}
	return out
}

func hashJSON(v interface{}) (string, error) {
	// json.Marshal emits map keys sorted, which keeps the hash stable
	bytes, err := json.Marshal(v)
	if err != nil {
		return "", xerrors.Errorf("serialize hash input: %w", err)
	}
	return hashutil.SHA256Bytes(bytes), nil
}
