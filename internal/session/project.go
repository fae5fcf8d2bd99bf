package session

import (
	"os"
	"path/filepath"

	csagit "github.com/csa-dev/csa/internal/git"
)

// ProjectKey derives the stable, filesystem-safe directory name under which
// a project's sessions are stored: prefer the git remote
// "origin" URL, else the git toplevel absolute path, else the given cwd
// itself. The origin URL is read with go-git; the toplevel step runs
// `git rev-parse --show-toplevel`, so without a git binary a repository
// with no origin remote falls back to cwd.
func ProjectKey(cwd string) (string, error) {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", err
	}

	if remote, err := csagit.RemoteOriginURL(abs); err == nil && remote != "" {
		return csagit.Slugify(remote), nil
	}

	if toplevel, err := csagit.GetRepoRoot(abs); err == nil && toplevel != "" {
		return csagit.Slugify(toplevel), nil
	}

	return csagit.Slugify(abs), nil
}

// GitHeadAtCreation resolves the HEAD commit hash to stamp on a freshly
// created session, honoring worktrees: a session created inside a linked
// worktree records that worktree's own HEAD, not the main worktree's.
func GitHeadAtCreation(cwd string) string {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return ""
	}
	head, err := csagit.HeadCommit(abs)
	if err != nil {
		return ""
	}
	return head
}

// ensureDir creates dir (and parents) with the directory mode the Session
// Store uses for everything under its root: 0o755, world-readable but only
// owner-writable.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
