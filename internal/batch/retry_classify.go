package batch

import (
	"strings"

	"github.com/csa-dev/csa/internal/liveness"
	"github.com/csa-dev/csa/internal/session"
)

// FailureKind classifies a failed step execution for on_fail:retry so a
// retry loop doesn't keep re-running a step that will never succeed.
type FailureKind string

const (
	// FailureStillWorking means the session directory still shows activity;
	// the caller should not treat this as a completed failure at all.
	FailureStillWorking FailureKind = "still_working"
	// FailureTransient covers signals, OOM kills, and other externally
	// caused terminations a retry has a real chance of getting past.
	FailureTransient FailureKind = "transient"
	// FailureDeterministic covers argument errors, permission errors, and
	// any other failure a retry would reproduce identically.
	FailureDeterministic FailureKind = "deterministic"
)

// ClassifyOutcome classifies a completed step's exit code and termination
// metadata into a FailureKind, using the same signal priority as the
// Liveness Probe: an outcome is never "failed" while the session directory
// still shows activity.
func ClassifyOutcome(outcome StepExecutionOutcome, state *session.MetaSessionState, stderr, sessionDir string) FailureKind {
	if sessionDir != "" && liveness.IsAlive(sessionDir) {
		return FailureStillWorking
	}

	var terminationReason string
	var sandboxMemoryLimit int
	if state != nil {
		terminationReason = state.TerminationReason
		sandboxMemoryLimit = state.Sandbox.MemoryMaxMB
	}

	if outcome.ExitCode == 137 {
		if terminationReason == "sigkill" || terminationReason == "sigterm" || sandboxMemoryLimit > 0 {
			return FailureTransient
		}
		return FailureDeterministic
	}

	if outcome.ExitCode == 143 || terminationReason == "sigterm" || terminationReason == "sigint" {
		return FailureTransient
	}

	if strings.Contains(strings.ToLower(stderr), "permission denied") {
		return FailureDeterministic
	}

	return FailureDeterministic
}

// ClassifyError classifies a dispatch error that never produced an exit
// code (spawn failure, admission rejection, timeout).
func ClassifyError(err error, sessionDir string) FailureKind {
	if sessionDir != "" && liveness.IsAlive(sessionDir) {
		return FailureStillWorking
	}
	if err == nil {
		return FailureDeterministic
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "oom") || strings.Contains(message, "signal") ||
		strings.Contains(message, "killed") || strings.Contains(message, "temporarily unavailable") {
		return FailureTransient
	}
	return FailureDeterministic
}
