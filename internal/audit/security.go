package audit

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePath resolves a project-relative path against root and returns its
// canonical absolute form, rejecting absolute input and any path that would
// resolve outside root (parent traversal, symlink escape).
func ValidatePath(relPath, root string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("audit: path %q must be relative", relPath)
	}

	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("audit: resolve root %s: %w", root, err)
	}

	joined := filepath.Join(canonicalRoot, relPath)
	if joined != canonicalRoot && !strings.HasPrefix(joined, canonicalRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("audit: path %q escapes root %s", relPath, root)
	}

	canonical, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", fmt.Errorf("audit: resolve %s: %w", joined, err)
	}
	if canonical != canonicalRoot && !strings.HasPrefix(canonical, canonicalRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("audit: path %q escapes root %s", relPath, root)
	}
	return canonical, nil
}
