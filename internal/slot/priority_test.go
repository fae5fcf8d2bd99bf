package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryPriorityFallbackUsesFirstAvailableTool(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	guard, tool, err := TryPriorityFallback(dir, []string{"codex", "claude", "gemini"},
		map[string]int{"codex": 1, "claude": 1, "gemini": 1})
	require.NoError(t, err)
	assert.Equal(t, "codex", tool)
	guard.Release()
}

func TestTryPriorityFallbackSkipsExhaustedTool(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	holder, _, err := TryAcquireSlot(dir, "codex", 1)
	require.NoError(t, err)
	defer holder.Release()

	guard, tool, err := TryPriorityFallback(dir, []string{"codex", "claude"},
		map[string]int{"codex": 1, "claude": 1})
	require.NoError(t, err)
	assert.Equal(t, "claude", tool)
	guard.Release()
}

func TestTryPriorityFallbackSkipsToolsNotEnabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	guard, tool, err := TryPriorityFallback(dir, []string{"codex", "claude"},
		map[string]int{"claude": 1})
	require.NoError(t, err)
	assert.Equal(t, "claude", tool)
	guard.Release()
}

func TestTryPriorityFallbackAllExhaustedReturnsLastError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h1, _, err := TryAcquireSlot(dir, "codex", 1)
	require.NoError(t, err)
	defer h1.Release()
	h2, _, err := TryAcquireSlot(dir, "claude", 1)
	require.NoError(t, err)
	defer h2.Release()

	guard, tool, err := TryPriorityFallback(dir, []string{"codex", "claude"},
		map[string]int{"codex": 1, "claude": 1})
	require.Error(t, err)
	assert.Nil(t, guard)
	assert.Empty(t, tool)
}

func TestTryPriorityFallbackDoesNotRetryDuplicateEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	holder, _, err := TryAcquireSlot(dir, "codex", 1)
	require.NoError(t, err)
	defer holder.Release()

	guard, tool, err := TryPriorityFallback(dir, []string{"codex", "codex", "claude"},
		map[string]int{"codex": 1, "claude": 1})
	require.NoError(t, err)
	assert.Equal(t, "claude", tool)
	guard.Release()
}
