package git

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
)

// RemoteOriginURL returns the "origin" remote's first URL with any embedded
// credentials stripped, or "" if the repo has no origin remote (or dir is
// not a git repository). Uses go-git rather than shelling out to git so it
// works even when the git binary is unavailable, matching how the Session
// Store's ProjectKey derivation is expected to run on every session resolve.
func RemoteOriginURL(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return "", nil
		}
		return "", fmt.Errorf("opening repository at %s: %w", dir, err)
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return "", nil // no origin remote; caller falls back to toplevel/cwd
	}

	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", nil
	}

	return stripCredentials(urls[0]), nil
}

// HeadCommit returns the current HEAD commit hash for the repository at dir,
// or "" if dir is not a git repository or HEAD is unborn (no commits yet).
func HeadCommit(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return "", nil
		}
		return "", fmt.Errorf("opening repository at %s: %w", dir, err)
	}

	ref, err := repo.Head()
	if err != nil {
		return "", nil // unborn HEAD (empty repo)
	}
	return ref.Hash().String(), nil
}

// stripCredentials removes userinfo (user:pass@) from a remote URL. SSH
// "scp-like" URLs (git@host:path) carry no URL-parseable credentials and
// pass through unchanged.
func stripCredentials(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.User != nil {
		u.User = nil
		return u.String()
	}
	return raw
}

// projectSlugSanitizer replaces anything unsafe for a filesystem path
// component with "-". Used by ProjectKey derivation to turn a remote URL or
// absolute path into a stable, filesystem-safe directory name.
var projectSlugSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Slugify turns an arbitrary string (remote URL, absolute path) into a
// filesystem-safe slug: lowercase, each run of characters other than
// letters, digits, '.', '_' and '-' collapsed to "-", leading/trailing "-"
// trimmed.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = projectSlugSanitizer.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
