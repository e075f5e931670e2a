package repo

import "context"

// Identifier generates consistent workspace IDs.
type Identifier interface {
	// GetRepoID returns a unique, filesystem-safe identifier for the workspace.
	// For git repos, this is derived from the origin remote URL.
	// For non-git directories, this is derived from the directory name.
	GetRepoID(workspacePath string) (string, error)

	// GetWorkspaceRoot returns the root directory of the workspace.
	// For git repos, this is the worktree root.
	// For non-git directories, this is the provided path.
	GetWorkspaceRoot(path string) (string, error)
}

// Access checks whether a remote repository can be reached with the
// configured credentials.
type Access interface {
	TestAccess(ctx context.Context, url string, mode string) (Result, error)
}
