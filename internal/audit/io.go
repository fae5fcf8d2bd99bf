package audit

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
)

var auditLog = logging.ForComponent(logging.CompAudit)

// DefaultManifestPath is the manifest's standard location under a project.
const DefaultManifestPath = ".csa/audit/manifest.toml"

// Load reads the manifest at path, returning a fresh empty manifest if the
// file doesn't exist yet. A manifest that fails to parse is backed up to
// "<path>.corrupt" and replaced by a fresh empty one rather than erroring.
func Load(path string) (*AuditManifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewManifest("."), nil
	}
	if err != nil {
		return nil, csaerr.Wrap(csaerr.IoError, "read audit manifest", err)
	}

	var manifest AuditManifest
	if _, decodeErr := toml.Decode(string(data), &manifest); decodeErr != nil {
		return recoverCorruptManifest(path, decodeErr)
	}
	if manifest.Files == nil {
		manifest.Files = make(map[string]FileEntry)
	}
	return &manifest, nil
}

// Save writes manifest to path atomically (write to a sibling .tmp file,
// then rename over the target), refreshing meta.updated_at first.
func Save(path string, manifest *AuditManifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return csaerr.Wrap(csaerr.IoError, "create audit manifest dir", err)
	}

	toSave := *manifest
	toSave.Meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(toSave); err != nil {
		return csaerr.Wrap(csaerr.IoError, "encode audit manifest", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(buf.String()), 0o644); err != nil {
		return csaerr.Wrap(csaerr.IoError, "write audit manifest tmp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return csaerr.Wrap(csaerr.IoError, "rename audit manifest into place", err)
	}
	return nil
}

// recoverCorruptManifest backs up an unparsable manifest file alongside
// itself (suffixed ".corrupt") and writes a fresh minimal manifest in its
// place, logging the recovery rather than failing the caller's load.
func recoverCorruptManifest(path string, cause error) (*AuditManifest, error) {
	auditLog.Warn("audit manifest corrupt, recovering with a fresh manifest",
		"path", path, "error", cause.Error())

	backupPath := corruptBackupPath(path)
	if err := os.Rename(path, backupPath); err != nil && !os.IsNotExist(err) {
		return nil, csaerr.Wrap(csaerr.IoError, "back up corrupt audit manifest", err)
	}

	fresh := NewManifest(".")
	if err := Save(path, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func corruptBackupPath(path string) string {
	return path + ".corrupt"
}
