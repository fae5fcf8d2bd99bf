package lockstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
)

var lockstoreLog = logging.ForComponent(logging.CompLockstore)

// EnsureCached returns the path to a bare mirror of repoURL under
// cacheRoot, cloning it on first use and fetching new refs on every call
// after that so later checkouts can resolve whatever commit they need.
func EnsureCached(cacheRoot, repoURL string) (string, error) {
	casPath := filepath.Join(cacheRoot, repoCacheKey(repoURL))

	if _, err := os.Stat(filepath.Join(casPath, "HEAD")); err == nil {
		repo, openErr := git.PlainOpen(casPath)
		if openErr != nil {
			return "", csaerr.Wrap(csaerr.IoError, "open cached mirror of "+repoURL, openErr)
		}
		fetchErr := repo.Fetch(&git.FetchOptions{RemoteName: "origin"})
		if fetchErr != nil && fetchErr != git.NoErrAlreadyUpToDate {
			lockstoreLog.Warn("fetch into cached mirror failed, using existing cache",
				"repo", repoURL, "error", fetchErr.Error())
		}
		return casPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(casPath), 0o755); err != nil {
		return "", csaerr.Wrap(csaerr.IoError, "create cache dir for "+repoURL, err)
	}
	_, err := git.PlainClone(casPath, true, &git.CloneOptions{URL: repoURL})
	if err != nil {
		return "", csaerr.Wrap(csaerr.IoError, "clone "+repoURL+" into cache", err)
	}
	return casPath, nil
}

// CheckoutTo materializes commit from the bare mirror at casPath into a
// fresh working copy at dest.
func CheckoutTo(casPath, commit, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return csaerr.Wrap(csaerr.IoError, "create package dir", err)
	}

	repo, err := git.PlainClone(dest, false, &git.CloneOptions{URL: casPath})
	if err != nil {
		return csaerr.Wrap(csaerr.IoError, "clone cached mirror into "+dest, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return csaerr.Wrap(csaerr.IoError, "open worktree for "+dest, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(commit)}); err != nil {
		return csaerr.Wrap(csaerr.IoError, "checkout "+commit+" into "+dest, err)
	}
	return nil
}

func repoCacheKey(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return hex.EncodeToString(sum[:])[:16]
}
