package index

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
)

var indexLog = logging.ForComponent(logging.CompIndex)

// DB wraps a sqlite cache database for one project's sessions.
type DB struct {
	sql  *sql.DB
	path string
}

// Open creates or opens the cache database at dbPath with WAL mode and a
// busy timeout, matching the concurrency posture the rest of csa uses for
// any file multiple processes might touch at once.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, csaerr.NewIoError("creating index db directory", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, csaerr.NewIoError("opening index db", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, csaerr.NewIoError("setting "+pragma, err)
		}
	}

	db := &DB{sql: sqlDB, path: dbPath}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close checkpoints the WAL and closes the database.
func (d *DB) Close() error {
	_, _ = d.sql.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.sql.Close()
}

func (d *DB) migrate() error {
	tx, err := d.sql.Begin()
	if err != nil {
		return csaerr.NewIoError("begin index migrate", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return csaerr.NewIoError("create meta table", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id                TEXT PRIMARY KEY,
			project_path      TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			tool              TEXT NOT NULL DEFAULT '',
			phase             TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT '',
			summary           TEXT NOT NULL DEFAULT '',
			created_at        INTEGER NOT NULL,
			last_accessed_at  INTEGER NOT NULL,
			turn_count        INTEGER NOT NULL DEFAULT 0,
			parent_session_id TEXT NOT NULL DEFAULT '',
			tokens_total      INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return csaerr.NewIoError("create sessions table", err)
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)",
		itoa(SchemaVersion),
	); err != nil {
		return csaerr.NewIoError("set schema version", err)
	}

	return tx.Commit()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
