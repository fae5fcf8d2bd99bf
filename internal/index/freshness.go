package index

import (
	"os"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/session"
)

// EnsureFresh rebuilds the cache if the sessions directory has changed since
// the last rebuild (new/removed session directories bump its mtime), or if
// the cache has never been built. Per-session content changes (e.g. a
// result.toml written mid-run) are not detected this way; callers that need
// up-to-the-second accuracy for one session should read its TOML files
// directly rather than trust the cache.
func EnsureFresh(db *DB, store *session.Store) error {
	info, err := os.Stat(store.SessionsDir())
	if os.IsNotExist(err) {
		return Rebuild(db, store)
	}
	if err != nil {
		return csaerr.NewIoError("statting sessions directory", err)
	}

	lastRebuilt, err := db.LastRebuiltAt()
	if err != nil {
		return err
	}
	if lastRebuilt.IsZero() || info.ModTime().After(lastRebuilt) {
		return Rebuild(db, store)
	}
	return nil
}
