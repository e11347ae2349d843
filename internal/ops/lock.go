package ops

import (
	"github.com/harbourpkg/harbour/internal/lockfile"
	"github.com/harbourpkg/harbour/internal/resolver"
	"github.com/harbourpkg/harbour/internal/workspace"
)

func lockfileState(ws *workspace.Workspace) (bool, *lockfile.File, error) {
	return lockfile.IsFresh(ws)
}

func saveLock(ws *workspace.Workspace, res *resolver.Resolve) error {
	return lockfile.SaveWorkspace(ws, res)
}
