// Package resolver turns a root summary plus queryable sources into an
// immutable Resolve graph, and computes the graph-wide C++ constraints.
package resolver

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/str"
)

type node struct {
	id  int64
	pkg core.PackageId
}

func (n *node) ID() int64 { return n.id }

type nameSourceKey struct {
	name   str.Interned
	source core.SourceId
}

// Resolve is the immutable resolved dependency graph: every package at
// its exact version, with directed edges from dependents to dependencies.
// A new one comes from a fresh solve (`harbour update`, or any resolve
// whose lockfile is stale) or from loading a fresh lockfile.
type Resolve struct {
	g       *simple.DirectedGraph
	nextID  int64
	nodeFor map[core.PackageId]*node

	// index supports O(1) (name, source) lookup; the MVP invariant keeps
	// one version per key but the index tolerates more for diagnostics.
	index map[nameSourceKey][]core.PackageId

	summaries   map[core.PackageId]core.Summary
	checksums   map[core.PackageId]string
	regProv     map[core.PackageId]core.RegistryProvenance
	vcpkgProv   map[core.PackageId]core.VcpkgProvenance
	topoOrder   []core.PackageId
	finalized   bool
}

// NewResolve creates an empty Resolve under construction.
func NewResolve() *Resolve {
	return &Resolve{
		g:         simple.NewDirectedGraph(),
		nodeFor:   map[core.PackageId]*node{},
		index:     map[nameSourceKey][]core.PackageId{},
		summaries: map[core.PackageId]core.Summary{},
		checksums: map[core.PackageId]string{},
		regProv:   map[core.PackageId]core.RegistryProvenance{},
		vcpkgProv: map[core.PackageId]core.VcpkgProvenance{},
	}
}

// AddPackage inserts a package; repeated inserts are no-ops.
func (r *Resolve) AddPackage(id core.PackageId, summary core.Summary) {
	if _, ok := r.nodeFor[id]; ok {
		return
	}
	n := &node{id: r.nextID, pkg: id}
	r.nextID++
	r.g.AddNode(n)
	r.nodeFor[id] = n

	key := nameSourceKey{id.InternedName(), id.SourceID()}
	r.index[key] = append(r.index[key], id)

	r.summaries[id] = summary
	if sum := summary.Checksum(); sum != "" {
		r.checksums[id] = sum
	}
	r.finalized = false
}

// AddEdge records that from depends on to. Both endpoints must already be
// in the graph; unknown endpoints are ignored, matching the invariant
// that every edge's endpoints exist.
func (r *Resolve) AddEdge(from, to core.PackageId) {
	fn, ok1 := r.nodeFor[from]
	tn, ok2 := r.nodeFor[to]
	if !ok1 || !ok2 || fn.id == tn.id {
		return
	}
	if !r.g.HasEdgeFromTo(fn.id, tn.id) {
		r.g.SetEdge(r.g.NewEdge(fn, tn))
	}
	r.finalized = false
}

// SetRegistryProvenance attaches registry provenance to a package.
func (r *Resolve) SetRegistryProvenance(id core.PackageId, p core.RegistryProvenance) {
	r.regProv[id] = p
}

// RegistryProvenance returns the provenance for a registry package.
func (r *Resolve) RegistryProvenance(id core.PackageId) (core.RegistryProvenance, bool) {
	p, ok := r.regProv[id]
	return p, ok
}

// SetVcpkgProvenance attaches vcpkg provenance to a package.
func (r *Resolve) SetVcpkgProvenance(id core.PackageId, p core.VcpkgProvenance) {
	r.vcpkgProv[id] = p
}

// VcpkgProvenance returns the provenance for a vcpkg package.
func (r *Resolve) VcpkgProvenance(id core.PackageId) (core.VcpkgProvenance, bool) {
	p, ok := r.vcpkgProv[id]
	return p, ok
}

// Contains reports whether id is in the graph.
func (r *Resolve) Contains(id core.PackageId) bool {
	_, ok := r.nodeFor[id]
	return ok
}

// Len returns the number of packages.
func (r *Resolve) Len() int { return len(r.summaries) }

// Summary returns the summary for id.
func (r *Resolve) Summary(id core.PackageId) (core.Summary, bool) {
	s, ok := r.summaries[id]
	return s, ok
}

// Checksum returns the checksum for id, or "".
func (r *Resolve) Checksum(id core.PackageId) string { return r.checksums[id] }

// Packages returns every package id, sorted by (name, version).
func (r *Resolve) Packages() []core.PackageId {
	out := make([]core.PackageId, 0, len(r.summaries))
	for id := range r.summaries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// GetPackage returns the package for (name, source); the MVP invariant
// guarantees at most one version per pair.
func (r *Resolve) GetPackage(name string, source core.SourceId) (core.PackageId, bool) {
	ids := r.index[nameSourceKey{str.Intern(name), source}]
	if len(ids) == 0 {
		return core.PackageId{}, false
	}
	return ids[0], true
}

// GetPackageByName returns any package with the given name, preferring a
// deterministic (lowest) choice when multiple sources carry it.
func (r *Resolve) GetPackageByName(name string) (core.PackageId, bool) {
	interned := str.Intern(name)
	var matches []core.PackageId
	for key, ids := range r.index {
		if key.name == interned {
			matches = append(matches, ids...)
		}
	}
	if len(matches) == 0 {
		return core.PackageId{}, false
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Less(matches[j]) })
	return matches[0], true
}

// Deps returns the direct dependencies of id.
func (r *Resolve) Deps(id core.PackageId) []core.PackageId {
	n, ok := r.nodeFor[id]
	if !ok {
		return nil
	}
	var out []core.PackageId
	for it := r.g.From(n.id); it.Next(); {
		out = append(out, it.Node().(*node).pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Dependents returns the packages depending on id.
func (r *Resolve) Dependents(id core.PackageId) []core.PackageId {
	n, ok := r.nodeFor[id]
	if !ok {
		return nil
	}
	var out []core.PackageId
	for it := r.g.To(n.id); it.Next(); {
		out = append(out, it.Node().(*node).pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// TransitiveDeps returns every package reachable from id, excluding id.
func (r *Resolve) TransitiveDeps(id core.PackageId) map[core.PackageId]bool {
	visited := map[core.PackageId]bool{}
	stack := []core.PackageId{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		stack = append(stack, r.Deps(current)...)
	}
	delete(visited, id)
	return visited
}

// Finalize checks acyclicity and freezes the topological order. It must
// be called once construction is complete; a cycle is reported naming
// every package in it.
func (r *Resolve) Finalize() error {
	// order ties by node id (insertion order) so identical inputs yield
	// an identical order
	sorted, err := topo.SortStabilized(r.g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	})
	if err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return err
		}
		d := diag.New("dependency cycle detected")
		for _, component := range uo {
			names := make([]string, len(component))
			for i, n := range component {
				names[i] = n.(*node).pkg.String()
			}
			sort.Strings(names)
			d = d.WithContext("cycle: %s", strings.Join(names, " -> "))
		}
		return d.WithSuggestion("break the cycle by making one edge a private, non-propagating dependency").
			WithSuggestion("or split the shared code into a third package both sides depend on")
	}

	// the sort yields dependents before dependencies (edges point
	// dependent -> dependency); reverse for build order
	order := make([]core.PackageId, len(sorted))
	for i, n := range sorted {
		order[len(sorted)-1-i] = n.(*node).pkg
	}
	r.topoOrder = order
	r.finalized = true
	return nil
}

// TopologicalOrder returns the packages with dependencies before
// dependents. The order is stable for identical inputs.
func (r *Resolve) TopologicalOrder() []core.PackageId {
	if !r.finalized {
		if err := r.Finalize(); err != nil {
			return nil
		}
	}
	return append([]core.PackageId(nil), r.topoOrder...)
}

var _ graph.Directed = (*simple.DirectedGraph)(nil)
