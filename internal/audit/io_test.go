package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadNonexistentReturnsDefaultManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.toml")

	manifest, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, manifest.Files)
	assert.Equal(t, 1, manifest.Meta.Version)
	assert.Equal(t, ".", manifest.Meta.ProjectRoot)
	assert.Empty(t, manifest.Meta.LastScannedAt)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, ".csa", "audit", "manifest.toml")

	manifest := &AuditManifest{
		Meta: ManifestMeta{
			Version:       1,
			ProjectRoot:   ".",
			CreatedAt:     "2026-02-19T00:00:00Z",
			UpdatedAt:     "2026-02-19T00:00:01Z",
			LastScannedAt: "2026-02-19T00:00:02Z",
		},
		Files: map[string]FileEntry{
			"src/lib.rs": {
				Hash:        "sha256:abc",
				AuditStatus: StatusGenerated,
				BlogPath:    "posts/lib.md",
				Auditor:     "audit-bot",
			},
		},
	}

	require.NoError(t, Save(path, manifest))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.NotEqual(t, manifest.Meta.UpdatedAt, loaded.Meta.UpdatedAt)
	assert.Equal(t, manifest.Meta.CreatedAt, loaded.Meta.CreatedAt)
	assert.Equal(t, manifest.Meta.LastScannedAt, loaded.Meta.LastScannedAt)
	require.Contains(t, loaded.Files, "src/lib.rs")
	assert.Equal(t, manifest.Files["src/lib.rs"], loaded.Files["src/lib.rs"])
}

func TestLoadRecoversFromCorruptManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not valid toml [[["), 0o644))

	manifest, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, manifest.Files)

	assert.FileExists(t, corruptBackupPath(path))
	assert.FileExists(t, path)
}
