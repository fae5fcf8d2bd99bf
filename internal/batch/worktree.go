package batch

import (
	"fmt"

	"github.com/csa-dev/csa/internal/git"
)

// WorktreeTask runs fn against a dedicated git worktree checked out on a
// task-private branch instead of repoDir directly, so a wave of
// TaskModeParallel tasks never races on the same working tree. On success
// the branch is merged back into repoDir's checked-out branch and the
// worktree and branch are torn down; a failing fn leaves both in place so
// the task's state can be inspected. When repoDir is not a git repository,
// fn runs against repoDir unchanged.
func WorktreeTask(repoDir, taskName, nonce string, fn func(worktreeDir string) error) error {
	if !git.IsGitRepo(repoDir) {
		return fn(repoDir)
	}

	branch := git.SanitizeBranchName(fmt.Sprintf("csa/%s-%s", taskName, nonce))
	worktreePath := git.GenerateWorktreePath(repoDir, branch, "subdirectory")

	if err := git.CreateWorktree(repoDir, worktreePath, branch); err != nil {
		return fmt.Errorf("creating worktree for task %s: %w", taskName, err)
	}

	if err := fn(worktreePath); err != nil {
		return err
	}

	if err := git.MergeBranch(repoDir, branch); err != nil {
		return fmt.Errorf("merging worktree branch %s for task %s: %w", branch, taskName, err)
	}
	if err := git.RemoveWorktree(repoDir, worktreePath, false); err != nil {
		return fmt.Errorf("removing worktree for task %s: %w", taskName, err)
	}
	if err := git.DeleteBranch(repoDir, branch, false); err != nil {
		return fmt.Errorf("deleting worktree branch %s for task %s: %w", branch, taskName, err)
	}
	return nil
}
