package audit

import (
	"path/filepath"
	"time"

	"github.com/csa-dev/csa/internal/csaerr"
)

// Rescan scans projectRoot, loads the manifest at its default path, hashes
// every file the scan found, and returns the updated manifest (not yet
// saved) alongside the diff against the manifest's prior contents. New
// files start out StatusPending; modified files keep their prior status
// but get their hash refreshed; deleted files are dropped from the
// returned manifest's file map.
func Rescan(projectRoot string, extraIgnores []string) (*AuditManifest, Diff, error) {
	manifestPath := filepath.Join(projectRoot, DefaultManifestPath)
	manifest, err := Load(manifestPath)
	if err != nil {
		return nil, Diff{}, err
	}

	paths, err := ScanDirectory(projectRoot, extraIgnores)
	if err != nil {
		return nil, Diff{}, err
	}

	current := make(map[string]string, len(paths))
	for _, relPath := range paths {
		abs := filepath.Join(projectRoot, relPath)
		hash, hashErr := HashFile(abs)
		if hashErr != nil {
			return nil, Diff{}, csaerr.Wrap(csaerr.IoError, "hash scanned file "+relPath, hashErr)
		}
		current[relPath] = hash
	}

	diff := DiffManifest(manifest, current)

	for _, relPath := range diff.New {
		manifest.Files[relPath] = FileEntry{Hash: current[relPath], AuditStatus: StatusPending}
	}
	for _, relPath := range diff.Modified {
		entry := manifest.Files[relPath]
		entry.Hash = current[relPath]
		manifest.Files[relPath] = entry
	}
	for _, relPath := range diff.Deleted {
		delete(manifest.Files, relPath)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	manifest.Meta.LastScannedAt = now
	return manifest, diff, nil
}

// ManifestPath returns the default manifest path under projectRoot.
func ManifestPath(projectRoot string) string {
	return filepath.Join(projectRoot, DefaultManifestPath)
}
