package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-dev/csa/internal/resource"
	"github.com/csa-dev/csa/internal/session"
)

func newTestGuard(t *testing.T) *resource.Guard {
	t.Helper()
	guard, err := resource.NewGuard(resource.Limits{}, filepath.Join(t.TempDir(), "stats.toml"))
	require.NoError(t, err)
	return guard
}

func TestRunSucceedsAndPersistsResult(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := session.Open(root, "proj")
	guard := newTestGuard(t)

	outcome, err := Run(context.Background(), store, guard, RunRequest{
		Tool:          "codex",
		ProjectPath:   t.TempDir(),
		Argv:          []string{"sh", "-c", `echo '{"session_id":"native-1"}'`},
		RuntimeDir:    filepath.Join(root, "runtime"),
		MaxConcurrent: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.Equal(t, 0, outcome.Result.ExitCode)
	assert.Equal(t, "native-1", outcome.ProviderSessionID)
	assert.Contains(t, []string{"none", "setrlimit", "cgroup_v2"}, outcome.SandboxMode)

	reloaded, err := store.LoadState(outcome.State.ID)
	require.NoError(t, err)
	toolState, ok := reloaded.Tools["codex"]
	require.True(t, ok)
	assert.Equal(t, "native-1", toolState.ProviderSessionID)
	assert.Equal(t, 0, toolState.LastExitCode)

	result, err := store.LoadResult(outcome.State.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusSuccess, result.Status)
}

func TestRunNonZeroExitRecordsFailureResult(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := session.Open(root, "proj")
	guard := newTestGuard(t)

	outcome, err := Run(context.Background(), store, guard, RunRequest{
		Tool:          "codex",
		ProjectPath:   t.TempDir(),
		Argv:          []string{"sh", "-c", "echo failure; exit 3"},
		RuntimeDir:    filepath.Join(root, "runtime"),
		MaxConcurrent: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.Result.ExitCode)

	result, err := store.LoadResult(outcome.State.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailure, result.Status)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunReusesExistingSession(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := session.Open(root, "proj")
	guard := newTestGuard(t)

	existing, err := store.Create(session.NewSessionID(), "/repo", "codex", session.Genealogy{})
	require.NoError(t, err)

	outcome, err := Run(context.Background(), store, guard, RunRequest{
		Tool:            "codex",
		ProjectPath:     t.TempDir(),
		Argv:            []string{"echo", "hi"},
		RuntimeDir:      filepath.Join(root, "runtime"),
		MaxConcurrent:   1,
		ExistingSession: existing,
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, outcome.State.ID)
}

func TestRunReleasesSlotAfterCompletion(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := session.Open(root, "proj")
	guard := newTestGuard(t)
	runtimeDir := filepath.Join(root, "runtime")

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := Run(ctx, store, guard, RunRequest{
			Tool:          "codex",
			ProjectPath:   t.TempDir(),
			Argv:          []string{"echo", "round"},
			RuntimeDir:    runtimeDir,
			MaxConcurrent: 1,
		})
		cancel()
		require.NoError(t, err)
	}
}
