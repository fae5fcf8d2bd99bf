package session

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/oklog/ulid/v2"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStore)

// LegacySessionsDirName is the historical sessions directory name that
// ResolvePrefix also searches as a fallback.
const LegacySessionsDirName = "instances"

// Store is the Session Store: a durable, TOML-backed directory tree rooted
// at <root>/<project-key>/sessions/<id>/.
type Store struct {
	root       string // e.g. ~/.csa/store
	projectKey string
}

// Open returns a Store scoped to projectKey under root. It does not touch
// the filesystem; directories are created lazily on Create.
func Open(root, projectKey string) *Store {
	return &Store{root: root, projectKey: projectKey}
}

// ProjectDir is <root>/<project-key>.
func (s *Store) ProjectDir() string {
	return filepath.Join(s.root, s.projectKey)
}

// SessionsDir is <root>/<project-key>/sessions.
func (s *Store) SessionsDir() string {
	return filepath.Join(s.ProjectDir(), "sessions")
}

// legacySessionsDir is the historical alternate directory resolve_prefix
// must also search.
func (s *Store) legacySessionsDir() string {
	return filepath.Join(s.ProjectDir(), LegacySessionsDirName)
}

// SessionDir returns the directory for a given session id.
func (s *Store) SessionDir(id string) string {
	return filepath.Join(s.SessionsDir(), id)
}

// NewSessionID mints a fresh ULID: 26-char Crockford-base32, time-ordered.
func NewSessionID() string {
	return ulid.Make().String()
}

// Create lays out a new session directory and writes its initial
// state.toml and metadata.toml. depth is 1 + parent's depth (0 for roots),
// per its genealogy invariant.
func (s *Store) Create(id, projectPath, tool string, genealogy Genealogy) (*MetaSessionState, error) {
	dir := s.SessionDir(id)
	if err := ensureDir(dir); err != nil {
		return nil, csaerr.NewIoError("creating session directory", err)
	}
	for _, sub := range []string{"input", "output", "locks", "logs"} {
		if err := ensureDir(filepath.Join(dir, sub)); err != nil {
			return nil, csaerr.NewIoError("creating "+sub+" subdirectory", err)
		}
	}

	now := time.Now().UTC()
	state := &MetaSessionState{
		ID: id,
		ProjectPath: projectPath,
		CreatedAt: now,
		LastAccessedAt: now,
		Genealogy: genealogy,
		Tools: make(map[string]ToolState),
		Phase: PhaseActive,
		GitHeadAtCreation: GitHeadAtCreation(projectPath),
	}
	if genealogy.ForkOfSessionID != "" {
		state.ForkCallAt = now
	}

	if err := s.SaveState(state); err != nil {
		return nil, err
	}
	if err := s.saveMetadata(dir, &SessionMetadata{Tool: tool, ToolLocked: true}); err != nil {
		return nil, err
	}

	storeLog.Info("session_created", slog.String("id", id), slog.String("tool", tool))
	return state, nil
}

// SaveState atomically persists state.toml: write to sibling.tmp, rename
// over target.
func (s *Store) SaveState(state *MetaSessionState) error {
	dir := s.SessionDir(state.ID)
	return atomicWriteTOML(filepath.Join(dir, "state.toml"), state)
}

func (s *Store) saveMetadata(dir string, meta *SessionMetadata) error {
	return atomicWriteTOML(filepath.Join(dir, "metadata.toml"), meta)
}

// SaveResult atomically persists result.toml. result.toml must exist for
// any session whose lock was ever acquired; callers are expected to call
// this unconditionally on the post-exec path, including on error.
func (s *Store) SaveResult(id string, result *SessionResult) error {
	dir := s.SessionDir(id)
	return atomicWriteTOML(filepath.Join(dir, "result.toml"), result)
}

// LoadState reads state.toml for id.
func (s *Store) LoadState(id string) (*MetaSessionState, error) {
	var state MetaSessionState
	path := filepath.Join(s.SessionDir(id), "state.toml")
	if _, err := toml.DecodeFile(path, &state); err != nil {
		if os.IsNotExist(err) {
			return nil, csaerr.NewSessionNotFound(id)
		}
		return nil, csaerr.NewParseError("parsing state.toml for "+id, err)
	}
	return &state, nil
}

// LoadMetadata reads metadata.toml for id.
func (s *Store) LoadMetadata(id string) (*SessionMetadata, error) {
	var meta SessionMetadata
	path := filepath.Join(s.SessionDir(id), "metadata.toml")
	if _, err := toml.DecodeFile(path, &meta); err != nil {
		if os.IsNotExist(err) {
			return nil, csaerr.NewSessionNotFound(id)
		}
		return nil, csaerr.NewParseError("parsing metadata.toml for "+id, err)
	}
	return &meta, nil
}

// LoadResult reads result.toml for id, or (nil, nil) if it doesn't exist
// yet (a session whose lock was never acquired has none).
func (s *Store) LoadResult(id string) (*SessionResult, error) {
	var result SessionResult
	path := filepath.Join(s.SessionDir(id), "result.toml")
	if _, err := toml.DecodeFile(path, &result); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, csaerr.NewParseError("parsing result.toml for "+id, err)
	}
	return &result, nil
}

// Delete removes a session's directory tree entirely.
func (s *Store) Delete(id string) error {
	if err := os.RemoveAll(s.SessionDir(id)); err != nil {
		return csaerr.NewIoError("deleting session "+id, err)
	}
	return nil
}

// List returns all session ids present in the primary sessions directory,
// sorted lexicographically (which, for ULIDs, is also chronological).
func (s *Store) List() ([]string, error) {
	return listSessionIDs(s.SessionsDir())
}

func listSessionIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, csaerr.NewIoError("listing sessions directory "+dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ResolvePrefix does a case-insensitive prefix match against session ids in
// the primary sessions directory and, independently, the legacy directory.
// It never silently hides ambiguity within the primary directory by
// falling through to the legacy one: a unique match in the primary
// directory wins outright; only when the primary directory has zero
// matches does the legacy directory's matches apply.
func (s *Store) ResolvePrefix(prefix string) (string, error) {
	lowerPrefix := strings.ToLower(prefix)

	primary, err := listSessionIDs(s.SessionsDir())
	if err != nil {
		return "", err
	}
	primaryMatches := matchPrefix(primary, lowerPrefix)
	if len(primaryMatches) == 1 {
		return primaryMatches[0], nil
	}
	if len(primaryMatches) > 1 {
		return "", csaerr.NewAmbiguous(prefix, primaryMatches)
	}

	legacy, err := listSessionIDs(s.legacySessionsDir())
	if err != nil {
		return "", err
	}
	legacyMatches := matchPrefix(legacy, lowerPrefix)
	if len(legacyMatches) == 1 {
		return legacyMatches[0], nil
	}
	if len(legacyMatches) > 1 {
		return "", csaerr.NewAmbiguous(prefix, legacyMatches)
	}

	return "", csaerr.NewSessionNotFound(prefix)
}

func matchPrefix(ids []string, lowerPrefix string) []string {
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(strings.ToLower(id), lowerPrefix) {
			matches = append(matches, id)
		}
	}
	return matches
}

// ResolveResume resolves prefix to a session id, then enforces tool_locked:
// loading a session whose metadata.tool differs from tool is an error
//. Returns the session state plus its tool's native provider
// session id, if any.
func (s *Store) ResolveResume(prefix, tool string) (*MetaSessionState, string, error) {
	id, err := s.ResolvePrefix(prefix)
	if err != nil {
		return nil, "", err
	}

	meta, err := s.LoadMetadata(id)
	if err != nil {
		return nil, "", err
	}
	if meta.ToolLocked && meta.Tool != tool {
		return nil, "", csaerr.New(csaerr.SessionNotFound,
			"session "+id+" is locked to tool "+meta.Tool+", cannot resume as "+tool)
	}

	state, err := s.LoadState(id)
	if err != nil {
		return nil, "", err
	}

	providerID := ""
	if ts, ok := state.Tools[tool]; ok {
		providerID = ts.ProviderSessionID
	}
	return state, providerID, nil
}

// ListingStatus is the display status derived per its "Status
// derivation (for listings)" rule.
type ListingStatus string

const (
	ListingRetired ListingStatus = "Retired"
	ListingFailed ListingStatus = "Failed"
	ListingError ListingStatus = "Error"
	ListingActive ListingStatus = "Active"
	ListingAvailable ListingStatus = "Available"
)

// DeriveListingStatus implements: Retired wins regardless of result; else
// if a result is present and (exit_code != 0 or status is not one of
// success/failure), Failed/Error; else the phase name.
func DeriveListingStatus(phase Phase, result *SessionResult) ListingStatus {
	if phase == PhaseRetired {
		return ListingRetired
	}
	if result != nil {
		recognized := result.Status == StatusSuccess || result.Status == StatusFailure
		if result.ExitCode != 0 || !recognized {
			if result.Status == StatusFailure {
				return ListingFailed
			}
			return ListingError
		}
	}
	switch phase {
	case PhaseAvailable:
		return ListingAvailable
	default:
		return ListingActive
	}
}

func atomicWriteTOML(path string, v any) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return csaerr.NewParseError("encoding "+filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return csaerr.NewIoError("opening "+tmp, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return csaerr.NewIoError("writing "+tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return csaerr.NewIoError("fsyncing "+tmp, err)
	}
	if err := f.Close(); err != nil {
		return csaerr.NewIoError("closing "+tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return csaerr.NewIoError("renaming "+tmp+" to "+path, err)
	}
	return nil
}
