package orchestrator

import (
	"sort"
	"time"

	"github.com/csa-dev/csa/internal/session"
)

// SeedCandidate identifies a warm session eligible for soft-forking to
// avoid a cold start.
type SeedCandidate struct {
	SessionID string
	ToolName  string
}

// NeedsNativeFork reports whether tool resumes provider-level sessions
// natively (claude-code) rather than needing a soft fork's injected
// context summary (codex, gemini-cli, opencode).
func NeedsNativeFork(tool string) bool {
	switch tool {
	case "claude-code", "claude":
		return true
	default:
		return false
	}
}

// SeedOptions controls FindSeedSession's filtering.
type SeedOptions struct {
	Tool                   string
	SeedMaxAge             time.Duration
	CurrentGitHead         string // empty means "not tracked"
	RequireProviderSession bool // true for tools that need native fork (e.g. claude-code)
}

// FindSeedSession returns the most-recently-accessed eligible seed session
// for opts.Tool in store's project, or (nil, nil) if none qualifies. A
// candidate qualifies when it is: Available phase, IsSeedCandidate, not
// itself a fork child, has the requested tool, young enough, has a
// matching git HEAD (when both sides track one), and — when
// RequireProviderSession is set — has a non-empty provider session ID for
// that tool (native fork needs it to resume).
func FindSeedSession(store *session.Store, opts SeedOptions) (*SeedCandidate, error) {
	ids, err := store.List()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var best *session.MetaSessionState

	for _, id := range ids {
		state, err := store.LoadState(id)
		if err != nil {
			continue
		}
		if !isEligibleSeed(state, opts, now) {
			continue
		}
		if best == nil || state.LastAccessedAt.After(best.LastAccessedAt) {
			best = state
		}
	}

	if best == nil {
		return nil, nil
	}
	return &SeedCandidate{SessionID: best.ID, ToolName: opts.Tool}, nil
}

func isEligibleSeed(state *session.MetaSessionState, opts SeedOptions, now time.Time) bool {
	if state.Phase != session.PhaseAvailable {
		return false
	}
	if !state.IsSeedCandidate {
		return false
	}
	if state.Genealogy.ForkOfSessionID != "" {
		return false
	}
	tool, ok := state.Tools[opts.Tool]
	if !ok {
		return false
	}
	if opts.RequireProviderSession && tool.ProviderSessionID == "" {
		return false
	}
	if opts.SeedMaxAge > 0 && now.Sub(state.LastAccessedAt) > opts.SeedMaxAge {
		return false
	}
	if opts.CurrentGitHead != "" && state.GitHeadAtCreation != "" &&
		opts.CurrentGitHead != state.GitHeadAtCreation {
		return false
	}
	return true
}

// IsSeedValid is a pure re-check of eligibility against a single
// already-loaded state, used right before a soft-fork actually happens to
// guard against a race with a concurrent eviction or retirement.
func IsSeedValid(state *session.MetaSessionState, seedMaxAge time.Duration, currentGitHead string) bool {
	if !state.IsSeedCandidate || state.Phase != session.PhaseAvailable {
		return false
	}
	if seedMaxAge > 0 && time.Since(state.LastAccessedAt) > seedMaxAge {
		return false
	}
	if currentGitHead != "" && state.GitHeadAtCreation != "" &&
		currentGitHead != state.GitHeadAtCreation {
		return false
	}
	return true
}

// EvictExcessSeeds enforces max_seed_sessions per tool via LRU: any seed
// candidate beyond the limit, ordered by most-recently-accessed first, is
// transitioned to Retired and has its seed-candidate flag cleared.
func EvictExcessSeeds(store *session.Store, tool string, maxSeedSessions int) ([]string, error) {
	ids, err := store.List()
	if err != nil {
		return nil, err
	}

	var seeds []*session.MetaSessionState
	for _, id := range ids {
		state, err := store.LoadState(id)
		if err != nil {
			continue
		}
		if state.Phase != session.PhaseAvailable || !state.IsSeedCandidate {
			continue
		}
		if _, ok := state.Tools[tool]; !ok {
			continue
		}
		seeds = append(seeds, state)
	}

	sort.Slice(seeds, func(i, j int) bool {
		return seeds[i].LastAccessedAt.After(seeds[j].LastAccessedAt)
	})

	var retired []string
	if maxSeedSessions < 0 {
		maxSeedSessions = 0
	}
	for _, state := range seeds[min(maxSeedSessions, len(seeds)):] {
		newPhase, ok := session.Transition(state.Phase, session.EventRetired)
		if !ok {
			continue
		}
		state.Phase = newPhase
		state.IsSeedCandidate = false
		if err := store.SaveState(state); err != nil {
			continue
		}
		retired = append(retired, state.ID)
	}

	return retired, nil
}
