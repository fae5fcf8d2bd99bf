package audit

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

const binarySniffBytes = 8 * 1024

var skippedDirs = map[string]bool{".git": true, ".csa": true}

// ScanDirectory walks root, returning every tracked file as a root-relative
// path, sorted and de-duplicated. Files matched by root's .gitignore tree,
// by an entry in extraIgnores, or that sniff as binary (a NUL byte in their
// first 8 KiB) are excluded, as are anything under .git or .csa.
func ScanDirectory(root string, extraIgnores []string) ([]string, error) {
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}

	fsys := osfs.New(canonicalRoot)
	patterns, err := gitignore.ReadPatterns(fsys, nil)
	if err != nil {
		return nil, err
	}
	matcher := gitignore.NewMatcher(patterns)

	var files []string
	err = filepath.WalkDir(canonicalRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		relPath, relErr := filepath.Rel(canonicalRoot, path)
		if relErr != nil || relPath == "." {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(relPath), "/")

		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			if matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if containsSkippedDir(parts) {
			return nil
		}
		if matcher.Match(parts, false) {
			return nil
		}
		if matchesExtraIgnore(relPath, extraIgnores) {
			return nil
		}
		binary, binErr := isBinaryFile(path)
		if binErr != nil {
			return nil
		}
		if binary {
			return nil
		}
		files = append(files, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return dedupSorted(files), nil
}

func isBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, binarySniffBytes)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false, nil
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

func containsSkippedDir(parts []string) bool {
	for _, part := range parts {
		if skippedDirs[part] {
			return true
		}
	}
	return false
}

func matchesExtraIgnore(relPath string, extraIgnores []string) bool {
	for _, rule := range extraIgnores {
		trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(rule), "./"), "/")
		if trimmed == "" {
			continue
		}
		if relPath == trimmed || strings.HasPrefix(relPath, trimmed+"/") {
			return true
		}
	}
	return false
}

func dedupSorted(files []string) []string {
	out := files[:0]
	var prev string
	for i, f := range files {
		if i > 0 && f == prev {
			continue
		}
		out = append(out, f)
		prev = f
	}
	return out
}
