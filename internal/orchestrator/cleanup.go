package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/csa-dev/csa/internal/session"
)

// sessionCleanupGuard owns one session's result.toml once its directory
// exists: Run arms it right after session creation and defuses it only on
// the normal success path, after the real result.toml is already written.
// Any return in between calls fire, so a spawn failure, a sandbox or
// slot error that happens after the session exists, or a signal never
// leaves a session without a parsable result.toml.
type sessionCleanupGuard struct {
	store   *session.Store
	state   *session.MetaSessionState
	tool    string
	started time.Time
	signal  func() string // "" | "sigint" | "sigterm", read at fire time
	armed   bool
}

func newCleanupGuard(store *session.Store, state *session.MetaSessionState, tool string, started time.Time, signal func() string) *sessionCleanupGuard {
	return &sessionCleanupGuard{store: store, state: state, tool: tool, started: started, signal: signal, armed: true}
}

// disarm marks the session as having written its own result.toml; fire
// becomes a no-op after this.
func (g *sessionCleanupGuard) disarm() {
	g.armed = false
}

// fire writes a synthetic result.toml for cause and, when a signal caused
// ctx to cancel, records termination_reason on state.toml and reclassifies
// the result as interrupted with the conventional 130/143 exit code. It is
// best-effort: a failure to persist here is logged, never returned, since
// the caller is already unwinding on its own error.
func (g *sessionCleanupGuard) fire(ctx context.Context, cause error) {
	if g == nil || !g.armed {
		return
	}

	status := session.StatusFailure
	exitCode := 1
	reason := ""

	if ctx.Err() != nil {
		switch g.signal() {
		case "sigint":
			reason, exitCode = "sigint", 130
		case "sigterm":
			reason, exitCode = "sigterm", 143
		default:
			reason, exitCode = "context_canceled", 143
		}
		status = session.StatusInterrupted
	}

	summary := "pre-exec failure"
	if cause != nil {
		summary = session.BuildSummary("", cause.Error(), exitCode)
	}

	result := &session.SessionResult{
		Status:      status,
		ExitCode:    exitCode,
		Summary:     summary,
		Tool:        g.tool,
		StartedAt:   g.started,
		CompletedAt: time.Now().UTC(),
	}
	if err := g.store.SaveResult(g.state.ID, result); err != nil {
		pipelineLog.Warn("cleanup_guard_save_result_failed", slog.String("session_id", g.state.ID), slog.Any("error", err))
	}

	if reason != "" {
		g.state.TerminationReason = reason
		g.state.LastAccessedAt = time.Now().UTC()
		if err := g.store.SaveState(g.state); err != nil {
			pipelineLog.Warn("cleanup_guard_save_state_failed", slog.String("session_id", g.state.ID), slog.Any("error", err))
		}
	}
}
