package index

import (
	"strings"
	"time"

	"github.com/csa-dev/csa/internal/csaerr"
)

// List returns cached rows matching filter, ordered by last_accessed_at
// descending (most recently touched sessions first).
func (d *DB) List(filter Filter) ([]Row, error) {
	query := `
		SELECT id, project_path, description, tool, phase, status, summary,
			created_at, last_accessed_at, turn_count, parent_session_id, tokens_total
		FROM sessions
		WHERE 1=1
	`
	var args []any

	if filter.Tool != "" {
		query += " AND tool = ?"
		args = append(args, filter.Tool)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Query != "" {
		query += " AND (description LIKE ? ESCAPE '\\' OR summary LIKE ? ESCAPE '\\')"
		like := "%" + escapeLike(filter.Query) + "%"
		args = append(args, like, like)
	}

	query += " ORDER BY last_accessed_at DESC"

	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, csaerr.NewIoError("querying session cache", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var r Row
		var created, accessed int64
		if err := rows.Scan(
			&r.ID, &r.ProjectPath, &r.Description, &r.Tool, &r.Phase, &r.Status, &r.Summary,
			&created, &accessed, &r.TurnCount, &r.ParentSessionID, &r.TokensTotal,
		); err != nil {
			return nil, csaerr.NewIoError("scanning session cache row", err)
		}
		r.CreatedAt = time.Unix(created, 0).UTC()
		r.LastAccessedAt = time.Unix(accessed, 0).UTC()
		result = append(result, r)
	}
	return result, rows.Err()
}

// LastRebuiltAt returns when the cache was last fully rebuilt, or the zero
// time if it has never been built.
func (d *DB) LastRebuiltAt() (time.Time, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM meta WHERE key = 'last_rebuilt_at'").Scan(&value)
	if err != nil {
		return time.Time{}, nil
	}
	var ts int64
	for _, c := range []byte(value) {
		if c < '0' || c > '9' {
			return time.Time{}, nil
		}
		ts = ts*10 + int64(c-'0')
	}
	return time.Unix(ts, 0).UTC(), nil
}

// escapeLike escapes the LIKE wildcard characters in a user-supplied
// substring so search queries can't widen their own match unexpectedly.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
