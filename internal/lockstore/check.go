package lockstore

import (
	"os"
	"path/filepath"
)

// DefaultCheckDirs are the tool-specific skill directories scanned for
// broken symlinks by default.
var DefaultCheckDirs = []string{
	".claude/skills",
	".codex/skills",
	".agents/skills",
	".gemini/skills",
}

// CheckResult is the outcome of scanning one directory for broken
// symlinks.
type CheckResult struct {
	Dir         string
	Issues      []AuditIssue
	Fixed       int
	FixFailures int
}

// CheckSymlinks scans dirs (resolved against projectRoot when relative)
// for broken symlinks. When fix is true, broken symlinks are removed;
// regular files and directories are never touched.
func CheckSymlinks(projectRoot string, dirs []string, fix bool) ([]CheckResult, error) {
	var results []CheckResult

	for _, dir := range dirs {
		absDir := dir
		if !filepath.IsAbs(dir) {
			absDir = filepath.Join(projectRoot, dir)
		}
		if !isDir(absDir) {
			continue
		}

		entries, err := os.ReadDir(absDir)
		if err != nil {
			return nil, err
		}

		var issues []AuditIssue
		fixed, fixFailures := 0, 0

		for _, entry := range entries {
			path := filepath.Join(absDir, entry.Name())

			info, err := os.Lstat(path)
			if err != nil {
				continue
			}
			if info.Mode()&os.ModeSymlink == 0 {
				continue
			}

			target, err := os.Readlink(path)
			if err != nil {
				continue
			}

			resolved := target
			if !filepath.IsAbs(target) {
				resolved = filepath.Join(absDir, target)
			}

			if _, statErr := os.Stat(resolved); statErr == nil {
				continue
			}

			issues = append(issues, AuditIssue{Kind: IssueBrokenSymlink, Path: path, Target: target})

			if fix {
				if removeErr := os.Remove(path); removeErr == nil {
					fixed++
				} else {
					fixFailures++
				}
			}
		}

		if len(issues) > 0 || fixed > 0 || fixFailures > 0 {
			results = append(results, CheckResult{
				Dir:         absDir,
				Issues:      issues,
				Fixed:       fixed,
				FixFailures: fixFailures,
			})
		}
	}

	return results, nil
}
