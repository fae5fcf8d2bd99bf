package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-dev/csa/internal/session"
)

func TestEnsureFreshBuildsOnFirstUse(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	db := newTestDB(t)

	id := session.NewSessionID()
	_, err := store.Create(id, "/tmp/myproject", "claude", session.Genealogy{})
	require.NoError(t, err)

	require.NoError(t, EnsureFresh(db, store))
	rows, err := db.List(Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestEnsureFreshPicksUpNewSessions(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	db := newTestDB(t)
	require.NoError(t, EnsureFresh(db, store))

	id := session.NewSessionID()
	_, err := store.Create(id, "/tmp/myproject", "claude", session.Genealogy{})
	require.NoError(t, err)

	require.NoError(t, EnsureFresh(db, store))
	rows, err := db.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEnsureFreshNoopsWhenUpToDate(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	db := newTestDB(t)

	id := session.NewSessionID()
	_, err := store.Create(id, "/tmp/myproject", "claude", session.Genealogy{})
	require.NoError(t, err)
	require.NoError(t, EnsureFresh(db, store))

	last, err := db.LastRebuiltAt()
	require.NoError(t, err)
	require.False(t, last.IsZero())

	require.NoError(t, EnsureFresh(db, store))
	same, err := db.LastRebuiltAt()
	require.NoError(t, err)
	assert.Equal(t, last, same)
}
