package lockstore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink semantics differ on windows")
	}
}

func TestCheckSymlinksFindsBroken(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)
	tmp := t.TempDir()
	skillDir := filepath.Join(tmp, "skills")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	link := filepath.Join(skillDir, "broken-skill")
	require.NoError(t, os.Symlink("/nonexistent/path/to/skill", link))

	results, err := CheckSymlinks(tmp, []string{"skills"}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Issues, 1)
	assert.Equal(t, IssueBrokenSymlink, results[0].Issues[0].Kind)
	assert.Equal(t, link, results[0].Issues[0].Path)
	assert.Equal(t, 0, results[0].Fixed)
}

func TestCheckSymlinksPreservesValid(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)
	tmp := t.TempDir()
	skillDir := filepath.Join(tmp, "skills")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	target := filepath.Join(tmp, "real-skill")
	require.NoError(t, os.MkdirAll(target, 0o755))
	link := filepath.Join(skillDir, "good-skill")
	require.NoError(t, os.Symlink(target, link))

	results, err := CheckSymlinks(tmp, []string{"skills"}, false)
	require.NoError(t, err)
	assert.Empty(t, results)
	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestCheckSymlinksFixRemovesBroken(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)
	tmp := t.TempDir()
	skillDir := filepath.Join(tmp, "skills")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	broken := filepath.Join(skillDir, "broken")
	require.NoError(t, os.Symlink("/nonexistent", broken))
	target := filepath.Join(tmp, "real")
	require.NoError(t, os.MkdirAll(target, 0o755))
	valid := filepath.Join(skillDir, "valid")
	require.NoError(t, os.Symlink(target, valid))

	results, err := CheckSymlinks(tmp, []string{"skills"}, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Fixed)

	_, statErr := os.Lstat(broken)
	assert.Error(t, statErr)
	_, validErr := os.Lstat(valid)
	require.NoError(t, validErr)
}

func TestCheckSymlinksSkipsNonexistentDir(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	results, err := CheckSymlinks(tmp, []string{"does-not-exist"}, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCheckSymlinksIgnoresRegularFiles(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	skillDir := filepath.Join(tmp, "skills")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "not-a-link"), []byte("content"), 0o644))

	results, err := CheckSymlinks(tmp, []string{"skills"}, true)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.FileExists(t, filepath.Join(skillDir, "not-a-link"))
}
