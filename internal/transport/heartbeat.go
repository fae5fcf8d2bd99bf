package transport

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// HeartbeatIntervalEnv overrides DefaultHeartbeatInterval; set to "0" to
	// disable heartbeat logging entirely.
	HeartbeatIntervalEnv = "CSA_TOOL_HEARTBEAT_SECS"

	DefaultHeartbeatInterval = 20 * time.Second
)

// ResolveHeartbeatInterval reads HeartbeatIntervalEnv, returning (0, false)
// when heartbeats are disabled (env set to "0"), falling back to
// DefaultHeartbeatInterval for an unset or unparseable value.
func ResolveHeartbeatInterval() (time.Duration, bool) {
	raw, set := os.LookupEnv(HeartbeatIntervalEnv)
	if !set {
		return DefaultHeartbeatInterval, true
	}
	secs, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return DefaultHeartbeatInterval, true
	}
	if secs == 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Heartbeat periodically reports a running tool's elapsed and idle time to
// stderr so a watching human (or a wrapping TUI) doesn't mistake "slow" for
// "hung" during a long-running tool call.
type Heartbeat struct {
	interval      time.Duration
	executionStart time.Time
	lastHeartbeat time.Time
	idleTimeout   time.Duration
}

// NewHeartbeat constructs a Heartbeat. interval of zero disables it.
func NewHeartbeat(interval, idleTimeout time.Duration) *Heartbeat {
	now := time.Now()
	return &Heartbeat{interval: interval, executionStart: now, lastHeartbeat: now, idleTimeout: idleTimeout}
}

// MaybeEmit logs a heartbeat line if both: activity has been idle for at
// least the configured interval, and the last heartbeat was emitted at
// least that long ago (prevents a burst of heartbeats at startup).
func (h *Heartbeat) MaybeEmit(now, lastActivity time.Time) {
	if h.interval <= 0 {
		return
	}

	idleFor := now.Sub(lastActivity)
	if idleFor < h.interval {
		return
	}
	if now.Sub(h.lastHeartbeat) < h.interval {
		return
	}

	elapsed := now.Sub(h.executionStart)
	fmt.Fprintf(os.Stderr, "[csa-heartbeat] tool still running: elapsed=%ds idle=%ds idle-timeout=%ds\n",
		int(elapsed.Seconds()), int(idleFor.Seconds()), int(h.idleTimeout.Seconds()))
	h.lastHeartbeat = now
}
