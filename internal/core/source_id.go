// Package core holds the interned identity types shared by every stage of
// the pipeline: where a package comes from (SourceId), what a package is
// (PackageId), what a package wants (Dependency), and the lightweight
// package view used during resolution (Summary).
package core

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/xerrors"
)

// SourceKind identifies the class of location packages are drawn from.
type SourceKind int

const (
	// SourceKindPath is a local filesystem directory.
	SourceKindPath SourceKind = iota
	// SourceKindGit is a git repository at some reference.
	SourceKindGit
	// SourceKindRegistry is a git-backed shim registry.
	SourceKindRegistry
	// SourceKindVcpkg is a port of an existing vcpkg installation.
	SourceKindVcpkg
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindPath:
		return "path"
	case SourceKindGit:
		return "git"
	case SourceKindRegistry:
		return "registry"
	case SourceKindVcpkg:
		return "vcpkg"
	}
	return "unknown"
}

// GitRefKind is the flavor of a git reference.
type GitRefKind int

const (
	GitRefDefaultBranch GitRefKind = iota
	GitRefBranch
	GitRefTag
	GitRefRev
)

// GitReference selects which commit of a git source to use.
type GitReference struct {
	Kind  GitRefKind
	Value string // branch/tag name or revision; empty for default branch
}

func (r GitReference) query() string {
	switch r.Kind {
	case GitRefBranch:
		return "branch=" + r.Value
	case GitRefTag:
		return "tag=" + r.Value
	case GitRefRev:
		return "rev=" + r.Value
	}
	return ""
}

type sourceInner struct {
	kind    SourceKind
	url     string // canonical URL string (file:// URL for path sources)
	ref     GitReference
	precise string // resolved commit (git) or source hash (registry)

	// original filesystem path for path sources, used for display
	origPath string

	// vcpkg fields
	port     string
	triplet  string
	features []string
}

var sourceInterner = struct {
	sync.RWMutex
	m map[string]*sourceInner
}{m: make(map[string]*sourceInner)}

// SourceId is an interned identifier for a package source. Copies are cheap
// and equality is pointer equality.
type SourceId struct {
	inner *sourceInner
}

func internSource(in sourceInner) SourceId {
	key := in.canonicalKey()

	sourceInterner.RLock()
	p, ok := sourceInterner.m[key]
	sourceInterner.RUnlock()
	if ok {
		return SourceId{p}
	}

	sourceInterner.Lock()
	defer sourceInterner.Unlock()
	if p, ok := sourceInterner.m[key]; ok {
		return SourceId{p}
	}
	c := in
	sourceInterner.m[key] = &c
	return SourceId{&c}
}

func (in *sourceInner) canonicalKey() string {
	// The URL-string form encodes every identity-relevant field.
	return in.urlString()
}

// ForPath returns the SourceId for a local directory. The path is made
// absolute so the same directory reached through different working
// directories interns identically.
func ForPath(path string) (SourceId, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return SourceId{}, xerrors.Errorf("canonicalize %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return internSource(sourceInner{
		kind:     SourceKindPath,
		url:      "file://" + filepath.ToSlash(abs),
		origPath: path,
	}), nil
}

// ForGit returns the SourceId for a git repository at the given reference.
func ForGit(rawurl string, ref GitReference) (SourceId, error) {
	u, err := url.Parse(rawurl)
	if err != nil || u.Scheme == "" {
		return SourceId{}, xerrors.Errorf("invalid git url %q", rawurl)
	}
	return internSource(sourceInner{
		kind: SourceKindGit,
		url:  rawurl,
		ref:  ref,
	}), nil
}

// ForRegistry returns the SourceId for a shim registry.
func ForRegistry(rawurl string) (SourceId, error) {
	u, err := url.Parse(rawurl)
	if err != nil || u.Scheme == "" {
		return SourceId{}, xerrors.Errorf("invalid registry url %q", rawurl)
	}
	return internSource(sourceInner{
		kind: SourceKindRegistry,
		url:  rawurl,
	}), nil
}

// ForVcpkg returns the SourceId for a vcpkg port under a triplet with the
// given features enabled. Features are sorted so the id is order-insensitive.
func ForVcpkg(port, triplet string, features []string) SourceId {
	fs := append([]string(nil), features...)
	sort.Strings(fs)
	return internSource(sourceInner{
		kind:     SourceKindVcpkg,
		url:      "vcpkg://" + port,
		port:     port,
		triplet:  triplet,
		features: fs,
	})
}

// WithPrecise returns a SourceId identical to s but carrying the given
// precise pin (a 40-char commit for git, a source hash for registries).
func (s SourceId) WithPrecise(precise string) SourceId {
	in := *s.inner
	in.precise = precise
	return internSource(in)
}

// Kind returns the source kind.
func (s SourceId) Kind() SourceKind { return s.inner.kind }

// URL returns the canonical URL string.
func (s SourceId) URL() string { return s.inner.url }

// Precise returns the precise pin, or "" if unset.
func (s SourceId) Precise() string { return s.inner.precise }

// Path returns the original filesystem path for path sources.
func (s SourceId) Path() string { return s.inner.origPath }

// LocalPath returns the absolute directory for path sources, derived from
// the canonical file:// URL.
func (s SourceId) LocalPath() string {
	return filepath.FromSlash(strings.TrimPrefix(s.inner.url, "file://"))
}

// GitRef returns the git reference for git sources.
func (s SourceId) GitRef() GitReference { return s.inner.ref }

// VcpkgPort returns (port, triplet, features) for vcpkg sources.
func (s SourceId) VcpkgPort() (string, string, []string) {
	return s.inner.port, s.inner.triplet, s.inner.features
}

func (s SourceId) IsPath() bool     { return s.inner != nil && s.inner.kind == SourceKindPath }
func (s SourceId) IsGit() bool      { return s.inner != nil && s.inner.kind == SourceKindGit }
func (s SourceId) IsRegistry() bool { return s.inner != nil && s.inner.kind == SourceKindRegistry }
func (s SourceId) IsVcpkg() bool    { return s.inner != nil && s.inner.kind == SourceKindVcpkg }
func (s SourceId) IsZero() bool     { return s.inner == nil }

func (in *sourceInner) urlString() string {
	var query string
	switch in.kind {
	case SourceKindGit:
		query = in.ref.query()
	case SourceKindVcpkg:
		params := []string{}
		if in.triplet != "" {
			params = append(params, "triplet="+in.triplet)
		}
		if len(in.features) > 0 {
			params = append(params, "features="+strings.Join(in.features, ","))
		}
		query = strings.Join(params, "&")
	}

	base := in.kind.String() + "+" + in.url
	if query != "" {
		base += "?" + query
	}
	if in.precise != "" {
		base += "#" + in.precise
	}
	return base
}

// ToURLString returns the canonical lockfile form
// `kind+url[?query][#precise]`.
func (s SourceId) ToURLString() string { return s.inner.urlString() }

// ParseSourceId parses the canonical URL-string form back into a SourceId.
// Round-trip property: ParseSourceId(s.ToURLString()) == s.
func ParseSourceId(raw string) (SourceId, error) {
	kindStr, rest, ok := strings.Cut(raw, "+")
	if !ok {
		return SourceId{}, xerrors.Errorf("invalid source id %q: missing kind prefix", raw)
	}

	var precise string
	if i := strings.LastIndexByte(rest, '#'); i >= 0 {
		precise = rest[i+1:]
		rest = rest[:i]
	}

	var query string
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		query = rest[i+1:]
		rest = rest[:i]
	}

	in := sourceInner{url: rest, precise: precise}

	switch kindStr {
	case "path":
		in.kind = SourceKindPath
		in.origPath = filepath.FromSlash(strings.TrimPrefix(rest, "file://"))
	case "git":
		in.kind = SourceKindGit
		for _, param := range strings.Split(query, "&") {
			k, v, _ := strings.Cut(param, "=")
			switch k {
			case "branch":
				in.ref = GitReference{Kind: GitRefBranch, Value: v}
			case "tag":
				in.ref = GitReference{Kind: GitRefTag, Value: v}
			case "rev":
				in.ref = GitReference{Kind: GitRefRev, Value: v}
			}
		}
	case "registry":
		in.kind = SourceKindRegistry
	case "vcpkg":
		in.kind = SourceKindVcpkg
		in.port = strings.TrimPrefix(rest, "vcpkg://")
		for _, param := range strings.Split(query, "&") {
			k, v, _ := strings.Cut(param, "=")
			switch k {
			case "triplet":
				in.triplet = v
			case "features":
				in.features = strings.Split(v, ",")
			}
		}
	default:
		return SourceId{}, xerrors.Errorf("unknown source kind %q in %q", kindStr, raw)
	}

	return internSource(in), nil
}

// String renders the source for humans: paths as paths, git with a short
// precise suffix.
func (s SourceId) String() string {
	if s.inner == nil {
		return "<none>"
	}
	switch s.inner.kind {
	case SourceKindPath:
		if s.inner.origPath != "" {
			return s.inner.origPath
		}
		return s.inner.url
	case SourceKindGit:
		out := s.inner.url
		if q := s.inner.ref.query(); q != "" {
			out += "?" + q
		}
		if p := s.inner.precise; p != "" {
			n := 8
			if len(p) < n {
				n = len(p)
			}
			out += "#" + p[:n]
		}
		return out
	case SourceKindVcpkg:
		out := fmt.Sprintf("vcpkg:%s", s.inner.port)
		if s.inner.triplet != "" {
			out += ":" + s.inner.triplet
		}
		return out
	default:
		return s.inner.urlString()
	}
}
