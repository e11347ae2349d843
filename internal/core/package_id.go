package core

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/harbourpkg/harbour/internal/str"
)

type packageInner struct {
	name    str.Interned
	version *semver.Version
	source  SourceId
}

var packageInterner = struct {
	sync.RWMutex
	m map[string]*packageInner
}{m: make(map[string]*packageInner)}

// PackageId is the interned (name, version, source) triple identifying one
// package in one resolve. Equality is pointer equality.
type PackageId struct {
	inner *packageInner
}

// NewPackageId interns the (name, version, source) triple.
func NewPackageId(name string, version *semver.Version, source SourceId) PackageId {
	key := name + "\x00" + version.String() + "\x00" + source.ToURLString()

	packageInterner.RLock()
	p, ok := packageInterner.m[key]
	packageInterner.RUnlock()
	if ok {
		return PackageId{p}
	}

	packageInterner.Lock()
	defer packageInterner.Unlock()
	if p, ok := packageInterner.m[key]; ok {
		return PackageId{p}
	}
	in := &packageInner{name: str.Intern(name), version: version, source: source}
	packageInterner.m[key] = in
	return PackageId{in}
}

// Name returns the package name.
func (p PackageId) Name() string { return p.inner.name.Str() }

// InternedName returns the interned name handle.
func (p PackageId) InternedName() str.Interned { return p.inner.name }

// Version returns the exact version.
func (p PackageId) Version() *semver.Version { return p.inner.version }

// SourceID returns where the package comes from.
func (p PackageId) SourceID() SourceId { return p.inner.source }

// IsZero reports whether p is the zero id.
func (p PackageId) IsZero() bool { return p.inner == nil }

// Less orders PackageIds by (name, version), the lockfile order.
func (p PackageId) Less(o PackageId) bool {
	if p.Name() != o.Name() {
		return p.Name() < o.Name()
	}
	return p.Version().LessThan(o.Version())
}

func (p PackageId) String() string {
	if p.inner == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s v%s", p.Name(), p.Version())
}
