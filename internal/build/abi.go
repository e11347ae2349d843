package build

import (
	"github.com/harbourpkg/harbour/internal/abi"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// newTargetIdentity builds the ABI identity of one target under the
// current context: triple, compiler, kind, PIC, visibility, and the
// ABI-relevant pieces of the resolved surface.
func newTargetIdentity(ctx *Context, target *manifest.Target) abi.Identity {
	identity := abi.NewIdentity(ctx.Triple, ctx.Compiler, target.Kind)

	// executables are not position-independent by default; libraries are
	identity.PIC = target.Kind != manifest.KindExe

	resolved := target.Surface.Resolve(ctx.Platform)
	identity = identity.WithSurface(resolved)

	if resolved.Abi.Has(manifest.ToggleVisibility) {
		identity.Visibility = "hidden"
	}
	return identity
}
