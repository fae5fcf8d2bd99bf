package session

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-dev/csa/internal/csaerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Open(t.TempDir(), "myproject")
}

func TestStoreCreateAndLoad(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := NewSessionID()

	state, err := s.Create(id, "/tmp/myproject", "claude", Genealogy{Depth: 0})
	require.NoError(t, err)
	assert.Equal(t, id, state.ID)
	assert.Equal(t, PhaseActive, state.Phase)

	loaded, err := s.LoadState(id)
	require.NoError(t, err)
	assert.Equal(t, state.ID, loaded.ID)
	assert.Equal(t, state.ProjectPath, loaded.ProjectPath)

	meta, err := s.LoadMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, "claude", meta.Tool)
	assert.True(t, meta.ToolLocked)
}

func TestStoreCreateLaysOutSubdirectories(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := NewSessionID()
	_, err := s.Create(id, "/tmp/myproject", "codex", Genealogy{})
	require.NoError(t, err)

	for _, sub := range []string{"input", "output", "locks", "logs"} {
		assert.DirExists(t, filepath.Join(s.SessionDir(id), sub))
	}
}

func TestStoreLoadStateMissingReturnsSessionNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.LoadState("01NOPE00000000000000000000")
	require.Error(t, err)

	kind, ok := csaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, csaerr.SessionNotFound, kind)
}

func TestStoreSaveResultThenLoad(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := NewSessionID()
	_, err := s.Create(id, "/tmp/myproject", "codex", Genealogy{})
	require.NoError(t, err)

	result := &SessionResult{Status: StatusSuccess, ExitCode: 0, Summary: "done", Tool: "codex"}
	require.NoError(t, s.SaveResult(id, result))

	loaded, err := s.LoadResult(id)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, StatusSuccess, loaded.Status)
	assert.Equal(t, "done", loaded.Summary)
}

func TestStoreLoadResultMissingReturnsNilNil(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := NewSessionID()
	_, err := s.Create(id, "/tmp/myproject", "codex", Genealogy{})
	require.NoError(t, err)

	result, err := s.LoadResult(id)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestStoreResolvePrefixUnique(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := NewSessionID()
	_, err := s.Create(id, "/tmp/myproject", "codex", Genealogy{})
	require.NoError(t, err)

	resolved, err := s.ResolvePrefix(id[:6])
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestStoreResolvePrefixCaseInsensitive(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := NewSessionID()
	_, err := s.Create(id, "/tmp/myproject", "codex", Genealogy{})
	require.NoError(t, err)

	lower := strings.ToLower(id[:8])
	resolved, err := s.ResolvePrefix(lower)
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestStoreResolvePrefixNoMatch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.ResolvePrefix("zzzzzz")
	require.Error(t, err)

	kind, ok := csaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, csaerr.SessionNotFound, kind)
}

func TestStoreResolvePrefixAmbiguous(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	// Two sessions sharing a common prefix by construction: mint one, then
	// create a second directory whose name shares its first characters.
	id1 := NewSessionID()
	_, err := s.Create(id1, "/tmp/myproject", "codex", Genealogy{})
	require.NoError(t, err)

	id2 := id1[:20] + "AAAAAA"
	_, err = s.Create(id2, "/tmp/myproject", "codex", Genealogy{})
	require.NoError(t, err)

	_, err = s.ResolvePrefix(id1[:10])
	require.Error(t, err)
	kind, ok := csaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, csaerr.Ambiguous, kind)
}

func TestStoreResolveResumeEnforcesToolLock(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := NewSessionID()
	_, err := s.Create(id, "/tmp/myproject", "claude", Genealogy{})
	require.NoError(t, err)

	_, _, err = s.ResolveResume(id, "codex")
	require.Error(t, err)

	_, _, err = s.ResolveResume(id, "claude")
	require.NoError(t, err)
}

func TestStoreListSortedChronologically(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	var ids []string
	for i := 0; i < 3; i++ {
		id := NewSessionID()
		_, err := s.Create(id, "/tmp/myproject", "codex", Genealogy{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	listed, err := s.List()
	require.NoError(t, err)
	require.Len(t, listed, 3)
	// ULIDs sort lexicographically by creation time.
	assert.True(t, listed[0] <= listed[1])
	assert.True(t, listed[1] <= listed[2])
}

func TestDeriveListingStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		phase  Phase
		result *SessionResult
		want   ListingStatus
	}{
		{"retired wins over any result", PhaseRetired, &SessionResult{Status: StatusSuccess, ExitCode: 0}, ListingRetired},
		{"active with no result", PhaseActive, nil, ListingActive},
		{"available with no result", PhaseAvailable, nil, ListingAvailable},
		{"active with failed result", PhaseActive, &SessionResult{Status: StatusFailure, ExitCode: 1}, ListingFailed},
		{"active with nonzero exit but success status", PhaseActive, &SessionResult{Status: StatusSuccess, ExitCode: 2}, ListingError},
		{"active with unrecognized status", PhaseActive, &SessionResult{Status: StatusSignal, ExitCode: 137}, ListingError},
		{"active with clean success result", PhaseActive, &SessionResult{Status: StatusSuccess, ExitCode: 0}, ListingActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveListingStatus(tt.phase, tt.result)
			assert.Equal(t, tt.want, got)
		})
	}
}

