package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-dev/csa/internal/session"
)

func TestListFiltersByTool(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	db := newTestDB(t)

	claudeID := session.NewSessionID()
	_, err := store.Create(claudeID, "/tmp/myproject", "claude", session.Genealogy{})
	require.NoError(t, err)
	codexID := session.NewSessionID()
	_, err = store.Create(codexID, "/tmp/myproject", "codex", session.Genealogy{})
	require.NoError(t, err)
	require.NoError(t, Rebuild(db, store))

	rows, err := db.List(Filter{Tool: "codex"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, codexID, rows[0].ID)
}

func TestListFiltersByQuerySubstring(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	db := newTestDB(t)

	id := session.NewSessionID()
	state, err := store.Create(id, "/tmp/myproject", "claude", session.Genealogy{})
	require.NoError(t, err)
	state.Description = "fix the flaky upload test"
	require.NoError(t, store.SaveState(state))
	require.NoError(t, Rebuild(db, store))

	rows, err := db.List(Filter{Query: "flaky"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = db.List(Filter{Query: "nonexistent"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListQueryEscapesLikeWildcards(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	db := newTestDB(t)

	id := session.NewSessionID()
	state, err := store.Create(id, "/tmp/myproject", "claude", session.Genealogy{})
	require.NoError(t, err)
	state.Description = "100% done_deal"
	require.NoError(t, store.SaveState(state))
	require.NoError(t, Rebuild(db, store))

	rows, err := db.List(Filter{Query: "100% done_deal"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = db.List(Filter{Query: "100X done_deal"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListOrdersByLastAccessedDescending(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	db := newTestDB(t)

	older := session.NewSessionID()
	state, err := store.Create(older, "/tmp/myproject", "claude", session.Genealogy{})
	require.NoError(t, err)
	state.LastAccessedAt = state.LastAccessedAt.Add(-1 * time.Hour)
	require.NoError(t, store.SaveState(state))

	newer := session.NewSessionID()
	_, err = store.Create(newer, "/tmp/myproject", "codex", session.Genealogy{})
	require.NoError(t, err)

	require.NoError(t, Rebuild(db, store))
	rows, err := db.List(Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer, rows[0].ID)
	assert.Equal(t, older, rows[1].ID)
}
