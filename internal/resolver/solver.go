package resolver

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/str"
)

// CandidateProvider answers version queries for a dependency. The source
// cache satisfies it.
type CandidateProvider interface {
	Query(dep core.Dependency) ([]core.Summary, error)
}

// requirement is one constraint on a resolver package, remembering who
// imposed it for conflict reporting.
type requirement struct {
	dep        core.Dependency
	requiredBy string
}

// Resolver runs a PubGrub-style unit-propagating backtracking solve over
// packages keyed by (name, source). The choice heuristics mirror the
// classic provider hooks:
//
//   - prioritize: packages with fewer candidate versions resolve first,
//     to fail fast;
//   - choose_version: the highest version in range wins, and the root is
//     pinned to itself;
//   - get_dependencies: a summary's dependency list becomes new ranges.
type Resolver struct {
	root     core.Summary
	provider CandidateProvider

	// candidates memoizes provider answers per package key, merged
	// across the requirements that triggered the queries.
	candidates map[nameSourceKey][]core.Summary
	queried    map[string]bool
}

// NewResolver creates a resolver rooted at root.
func NewResolver(root core.Summary, provider CandidateProvider) *Resolver {
	return &Resolver{
		root:       root,
		provider:   provider,
		candidates: map[nameSourceKey][]core.Summary{},
		queried:    map[string]bool{},
	}
}

func keyOf(name str.Interned, source core.SourceId) nameSourceKey {
	return nameSourceKey{name, source}
}

func depKey(dep core.Dependency) nameSourceKey {
	return keyOf(dep.InternedName(), dep.SourceID())
}

// fetchCandidates queries the provider once per (dep, range) pair and
// merges results into the per-key candidate list, sorted highest-first.
func (r *Resolver) fetchCandidates(dep core.Dependency) error {
	qk := dep.Name() + "\x00" + dep.SourceID().ToURLString() + "\x00" + dep.VersionReqString()
	if r.queried[qk] {
		return nil
	}
	r.queried[qk] = true

	summaries, err := r.provider.Query(dep)
	if err != nil {
		return err
	}

	key := depKey(dep)
	merged := r.candidates[key]
	for _, s := range summaries {
		exists := false
		for _, have := range merged {
			if have.PackageID() == s.PackageID() {
				exists = true
				break
			}
		}
		if !exists {
			merged = append(merged, s)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Version().GreaterThan(merged[j].Version())
	})
	r.candidates[key] = merged

	// transitively pre-fetch so the solve itself is pure and offline
	for _, s := range summaries {
		for _, d := range s.Dependencies() {
			if d.IsOptional() {
				continue
			}
			if err := r.fetchCandidates(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resolve runs the solve and returns the finalized graph.
func (r *Resolver) Resolve() (*Resolve, error) {
	rootKey := keyOf(str.Intern(r.root.Name()), r.root.SourceID())

	// gather the candidate universe up front
	for _, dep := range r.root.Dependencies() {
		if dep.IsOptional() {
			continue
		}
		if err := r.fetchCandidates(dep); err != nil {
			return nil, err
		}
	}

	assigned := map[nameSourceKey]core.Summary{rootKey: r.root}
	reqs := map[nameSourceKey][]requirement{}
	rootName := fmt.Sprintf("%s %s", r.root.Name(), r.root.Version())
	for _, dep := range r.root.Dependencies() {
		if dep.IsOptional() {
			continue
		}
		reqs[depKey(dep)] = append(reqs[depKey(dep)], requirement{dep, rootName})
	}

	if err := r.solve(assigned, reqs); err != nil {
		return nil, err
	}

	return r.buildResolve(assigned)
}

// unassignedKeys returns pending keys ordered by priority: fewest
// candidates first, then name for determinism.
func (r *Resolver) unassignedKeys(assigned map[nameSourceKey]core.Summary, reqs map[nameSourceKey][]requirement) []nameSourceKey {
	var keys []nameSourceKey
	for key := range reqs {
		if _, done := assigned[key]; !done {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := len(r.candidates[keys[i]]), len(r.candidates[keys[j]])
		if ci != cj {
			return ci < cj
		}
		return keys[i].name.Str() < keys[j].name.Str()
	})
	return keys
}

func (r *Resolver) solve(assigned map[nameSourceKey]core.Summary, reqs map[nameSourceKey][]requirement) error {
	// re-check already-assigned packages against all requirements; a
	// violated assignment is a dead branch
	for key, rs := range reqs {
		if summary, done := assigned[key]; done {
			for _, req := range rs {
				if !req.dep.MatchesVersion(summary.Version()) {
					return r.conflict(key, rs, assigned)
				}
			}
		}
	}

	pending := r.unassignedKeys(assigned, reqs)
	if len(pending) == 0 {
		return nil
	}
	key := pending[0]

	candidates := r.matching(key, reqs[key])
	if len(candidates) == 0 {
		return r.conflict(key, reqs[key], assigned)
	}

	var lastErr error
	for _, candidate := range candidates {
		nextAssigned := map[nameSourceKey]core.Summary{}
		for k, v := range assigned {
			nextAssigned[k] = v
		}
		nextAssigned[key] = candidate

		nextReqs := map[nameSourceKey][]requirement{}
		for k, v := range reqs {
			nextReqs[k] = v
		}
		by := fmt.Sprintf("%s %s", candidate.Name(), candidate.Version())
		for _, dep := range candidate.Dependencies() {
			if dep.IsOptional() {
				continue
			}
			dk := depKey(dep)
			nextReqs[dk] = append(append([]requirement(nil), nextReqs[dk]...), requirement{dep, by})
		}

		if err := r.solve(nextAssigned, nextReqs); err != nil {
			lastErr = err
			continue
		}
		// propagate the winning assignment up
		for k, v := range nextAssigned {
			assigned[k] = v
		}
		return nil
	}
	return lastErr
}

// matching returns the key's candidates satisfying every requirement,
// highest version first. The root is pinned to its own version.
func (r *Resolver) matching(key nameSourceKey, rs []requirement) []core.Summary {
	var out []core.Summary
	for _, candidate := range r.candidates[key] {
		ok := true
		for _, req := range rs {
			if !req.dep.MatchesVersion(candidate.Version()) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, candidate)
		}
	}
	return out
}

// conflict produces the resolution failure diagnostic, preserving the
// chain of requirers.
func (r *Resolver) conflict(key nameSourceKey, rs []requirement, assigned map[nameSourceKey]core.Summary) error {
	name := key.name.Str()
	d := diag.New("no version of %q satisfies all requirements", name)

	if len(r.candidates[key]) == 0 {
		d = diag.New("package %q not found in %s", name, key.source)
	}

	for _, req := range rs {
		d = d.WithContext("%s requires %s %s", req.requiredBy, name, req.dep.VersionReqString())
	}
	if summary, done := assigned[key]; done {
		d = d.WithContext("currently selected: %s %s", name, summary.Version())
	}
	if versions := r.candidates[key]; len(versions) > 0 {
		avail := make([]string, 0, len(versions))
		for _, v := range versions {
			avail = append(avail, v.Version().String())
		}
		d = d.WithContext("available versions: %v", avail)
	}
	return d.WithSuggestion("loosen one of the conflicting requirements").
		WithSuggestion("or vendor the package with a path dependency")
}

// buildResolve freezes the assignment into the immutable graph.
func (r *Resolver) buildResolve(assigned map[nameSourceKey]core.Summary) (*Resolve, error) {
	resolve := NewResolve()

	// deterministic node insertion order
	selected := make([]core.Summary, 0, len(assigned))
	for _, s := range assigned {
		selected = append(selected, s)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].PackageID().Less(selected[j].PackageID()) })

	for _, s := range selected {
		resolve.AddPackage(s.PackageID(), s)
	}

	for _, s := range selected {
		for _, dep := range s.Dependencies() {
			if dep.IsOptional() {
				continue
			}
			target, ok := assigned[depKey(dep)]
			if !ok {
				return nil, diag.New("internal: dependency %q of %s was never assigned", dep.Name(), s.PackageID())
			}
			if !dep.MatchesVersion(target.Version()) {
				return nil, diag.New("internal: %s selected for %s violates %s", target.PackageID(), s.PackageID(), dep.VersionReqString())
			}
			resolve.AddEdge(s.PackageID(), target.PackageID())
		}
	}

	if err := resolve.Finalize(); err != nil {
		return nil, err
	}
	return resolve, nil
}

// HighestMatching is a helper for callers outside the solve loop: it
// picks the highest version among summaries satisfying req.
func HighestMatching(summaries []core.Summary, req *semver.Constraints) (core.Summary, bool) {
	var best core.Summary
	found := false
	for _, s := range summaries {
		if !req.Check(s.Version()) {
			continue
		}
		if !found || s.Version().GreaterThan(best.Version()) {
			best = s
			found = true
		}
	}
	return best, found
}
