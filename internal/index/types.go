// Package index implements a rebuildable sqlite cache over the Session
// Store's TOML files, used for fast listing and search. The database is a derived accelerator: state.toml, metadata.toml,
// and result.toml remain the sole source of truth, and the cache is always
// safe to delete and rebuild from them.
package index

import "time"

// SchemaVersion tracks the cache's table layout. Bump when the row schema
// changes. Open stamps it into the meta table; the stored value is not read
// back or compared, so a changed version by itself triggers neither a
// rebuild nor a migration.
const SchemaVersion = 1

// Row is one session's denormalized listing/search record.
type Row struct {
	ID              string
	ProjectPath     string
	Description     string
	Tool            string
	Phase           string
	Status          string // derived listing status, see session.DeriveListingStatus
	Summary         string // last result.toml summary, if any
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	TurnCount       int
	ParentSessionID string
	TokensTotal     int
}

// Filter narrows List results. Zero-value fields are unconstrained.
type Filter struct {
	Tool   string
	Status string
	Query  string // case-insensitive substring match over description + summary
}
