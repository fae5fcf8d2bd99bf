package liveness

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAliveFalseForEmptySessionDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.False(t, IsAlive(dir))
}

func TestIsAliveTrueForLivePIDLock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	locksDir := filepath.Join(dir, "locks")
	require.NoError(t, os.MkdirAll(locksDir, 0o755))

	body, err := json.Marshal(map[string]any{"pid": os.Getpid(), "tool_name": "codex"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(locksDir, "codex.lock"), body, 0o644))

	assert.True(t, IsAlive(dir))
}

func TestIsAliveFalseForDeadPIDLock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	locksDir := filepath.Join(dir, "locks")
	require.NoError(t, os.MkdirAll(locksDir, 0o755))

	body, err := json.Marshal(map[string]any{"pid": 1<<30 - 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(locksDir, "codex.lock"), body, 0o644))

	assert.False(t, IsAlive(dir))
}

func TestIsAliveTrueForRecentSessionWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0o644))

	assert.True(t, IsAlive(dir))
}

func TestIsAliveFalseForStaleSessionWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "scratch.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	assert.False(t, IsAlive(dir))
}

func TestIsAliveDetectsOutputLogGrowthAcrossCalls(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "output.log")
	require.NoError(t, os.WriteFile(outputPath, []byte("line one\n"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(outputPath, old, old))

	// First call establishes the baseline snapshot; nothing grew yet.
	assert.False(t, IsAlive(dir))

	require.NoError(t, os.WriteFile(outputPath, []byte("line one\nline two\n"), 0o644))
	require.NoError(t, os.Chtimes(outputPath, old, old))

	assert.True(t, IsAlive(dir))
}

func TestIsAliveIgnoresSnapshotFileItself(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshotFile), []byte("stale=1"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, snapshotFile), old, old))

	assert.False(t, IsAlive(dir))
}

func TestExtractPID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantPID int
		wantOk  bool
	}{
		{"well formed", `{"pid": 4242, "tool_name": "codex"}`, 4242, true},
		{"compact", `{"pid":99}`, 99, true},
		{"missing", `{"tool_name": "codex"}`, 0, false},
		{"malformed", `not json`, 0, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pid, ok := extractPID(tt.content)
			assert.Equal(t, tt.wantOk, ok)
			if tt.wantOk {
				assert.Equal(t, tt.wantPID, pid)
			}
		})
	}
}
