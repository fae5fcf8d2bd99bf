package index

import (
	"log/slog"
	"strings"
	"time"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/session"
)

// Rebuild repopulates the cache from store's on-disk sessions, deleting any
// cached rows whose session directory is gone. It never trusts prior cache
// contents: every row is recomputed from state.toml/metadata.toml/result.toml.
func Rebuild(db *DB, store *session.Store) error {
	ids, err := store.List()
	if err != nil {
		return err
	}

	tx, err := db.sql.Begin()
	if err != nil {
		return csaerr.NewIoError("begin index rebuild", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(ids) == 0 {
		if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
			return csaerr.NewIoError("clearing sessions cache", err)
		}
	} else {
		placeholders := make([]string, len(ids))
		args := make([]any, len(ids))
		for i, id := range ids {
			placeholders[i] = "?"
			args[i] = id
		}
		q := "DELETE FROM sessions WHERE id NOT IN (" + strings.Join(placeholders, ",") + ")"
		if _, err := tx.Exec(q, args...); err != nil {
			return csaerr.NewIoError("pruning stale cache rows", err)
		}
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO sessions (
			id, project_path, description, tool, phase, status, summary,
			created_at, last_accessed_at, turn_count, parent_session_id, tokens_total
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return csaerr.NewIoError("preparing cache upsert", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		state, err := store.LoadState(id)
		if err != nil {
			// The directory listing raced with a concurrent delete; skip
			// rather than fail the whole rebuild.
			indexLog.Warn("rebuild_skip_missing_state", slog.String("id", id))
			continue
		}

		meta, err := store.LoadMetadata(id)
		tool := ""
		if err == nil {
			tool = meta.Tool
		}

		result, err := store.LoadResult(id)
		if err != nil {
			indexLog.Warn("rebuild_result_load_error", slog.String("id", id), slog.String("error", err.Error()))
			result = nil
		}

		status := session.DeriveListingStatus(state.Phase, result)
		summary := ""
		if result != nil {
			summary = result.Summary
		}

		if _, err := stmt.Exec(
			state.ID, state.ProjectPath, state.Description, tool,
			string(state.Phase), string(status), summary,
			state.CreatedAt.Unix(), state.LastAccessedAt.Unix(),
			state.TurnCount, state.Genealogy.ParentSessionID,
			state.CumulativeUsage.Total,
		); err != nil {
			return csaerr.NewIoError("upserting cache row for "+id, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('last_rebuilt_at', ?)",
		itoa(int(time.Now().Unix())),
	); err != nil {
		return csaerr.NewIoError("recording rebuild timestamp", err)
	}

	return tx.Commit()
}
