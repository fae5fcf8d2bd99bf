package lockstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/csa-dev/csa/internal/csaerr"
)

var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var commitHexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// LockfilePath is the project-root-relative location of the current
// lockfile format.
func LockfilePath(projectRoot string) string {
	return filepath.Join(projectRoot, "weave.lock")
}

// LegacyLockfilePath is where the pre-migration lockfile format lived.
func LegacyLockfilePath(projectRoot string) string {
	return filepath.Join(projectRoot, ".weave", "lock.toml")
}

// ValidatePackageName rejects anything but a plain name — no path
// separators, no "." or "..", no whitespace — so it can never be used to
// escape the store root when joined into a path.
func ValidatePackageName(name string) error {
	if name == "" || name == "." || name == ".." || !packageNamePattern.MatchString(name) {
		return csaerr.New(csaerr.ParseError, fmt.Sprintf("invalid package name %q", name))
	}
	return nil
}

// validateCommitKey accepts "local" or a hex commit string; anything else
// (including a traversal attempt) is rejected.
func validateCommitKey(commitKey string) error {
	if commitKey == "local" {
		return nil
	}
	if commitKey == "" || !commitHexPattern.MatchString(commitKey) {
		return csaerr.New(csaerr.ParseError, fmt.Sprintf("commit key must be \"local\" or hex characters, got %q", commitKey))
	}
	return nil
}

// PackageDir returns the global store path for a package at a given commit
// (or "local"), validating both components first.
func PackageDir(storeRoot, name, commitKey string) (string, error) {
	if err := ValidatePackageName(name); err != nil {
		return "", err
	}
	if err := validateCommitKey(commitKey); err != nil {
		return "", err
	}
	return filepath.Join(storeRoot, name, commitKey), nil
}

// IsCheckoutValid reports whether dest looks like a populated package
// checkout (exists, is a directory, and is non-empty).
func IsCheckoutValid(dest string) bool {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return false
	}
	return len(entries) > 0
}
