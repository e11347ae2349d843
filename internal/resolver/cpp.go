package resolver

import (
	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// CppConstraints is the graph-wide C++ configuration computed once per
// build: the unified standard, runtime selections, and exceptions/RTTI.
type CppConstraints struct {
	// EffectiveStd is the standard every C++ translation unit compiles
	// with; zero when the graph has no C++.
	EffectiveStd manifest.CppStd

	// MinRequiredStd is the strongest requirement found in the graph.
	MinRequiredStd manifest.CppStd

	// CppRuntime is the -stdlib selection; Clang-only.
	CppRuntime manifest.CppRuntime

	// MsvcRuntime is the graph-wide CRT linkage; mixing /MD and /MT is
	// disallowed, so there is exactly one value.
	MsvcRuntime manifest.MsvcRuntime

	// Exceptions and RTTI are graph-wide booleans, default true.
	Exceptions bool
	RTTI       bool

	// HasCpp reports whether any target in the graph needs C++.
	HasCpp bool
}

// ComputeCppConstraints unifies the C++ requirements across the graph.
//
// min_required = max(target.cpp_std, surface.compile.requires_cpp) over
// every target; requested = cliStd else [build].cpp_std; a requested
// standard below min_required refuses the build, naming the requiring
// target.
func ComputeCppConstraints(
	resolve *Resolve,
	packages map[core.PackageId]*manifest.Package,
	build manifest.BuildConfig,
	cliStd manifest.CppStd,
) (CppConstraints, error) {
	var minRequired manifest.CppStd
	var requiringTarget string
	hasCpp := false

	for _, id := range resolve.Packages() {
		pkg, ok := packages[id]
		if !ok {
			continue
		}
		for _, t := range pkg.Targets() {
			if t.RequiresCpp() {
				hasCpp = true
			}
			for _, std := range []manifest.CppStd{t.CppStd, t.Surface.Compile.RequiresCpp} {
				if std == 0 {
					continue
				}
				hasCpp = true
				if std > minRequired {
					minRequired = std
					requiringTarget = t.Name
				}
			}
		}
	}

	requested := cliStd
	if requested == 0 {
		requested = build.CppStd
	}

	var effective manifest.CppStd
	switch {
	case requested != 0 && minRequired != 0 && requested < minRequired:
		return CppConstraints{}, diag.New("`%s` requires %s but explicit standard is %s",
			requiringTarget, minRequired, requested).
			WithSuggestion("pass --std=%s or higher, or remove the explicit [build].cpp_std", minRequired.FlagValue())
	case requested != 0:
		effective = requested
	default:
		effective = minRequired
	}

	if effective != 0 {
		hasCpp = true
	}

	msvc := build.MsvcRuntime
	if msvc == "" {
		msvc = manifest.MsvcDynamic
	}

	return CppConstraints{
		EffectiveStd:   effective,
		MinRequiredStd: minRequired,
		CppRuntime:     build.CppRuntime,
		MsvcRuntime:    msvc,
		Exceptions:     build.ExceptionsEnabled(),
		RTTI:           build.RTTIEnabled(),
		HasCpp:         hasCpp,
	}, nil
}
