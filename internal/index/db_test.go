package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	rows, err := db.List(Filter{})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestOpenReopenPreservesData(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "index.db")

	db1, err := Open(dbPath)
	require.NoError(t, err)
	_, err = db1.sql.Exec(
		`INSERT INTO sessions (id, project_path, created_at, last_accessed_at) VALUES (?, ?, ?, ?)`,
		"s1", "/proj", 100, 100,
	)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := Open(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	rows, err := db2.List(Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
