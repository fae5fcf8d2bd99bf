package logging

import (
	"bytes"
	"log/slog"
	"strings"
)

// BridgeWriter wraps slog as an io.Writer so that output from external
// processes we don't control the logging of (hook command stderr, legacy
// log.Printf call sites) flows through the structured logging system. It
// parses the common "[CATEGORY] message" prefix pattern and extracts the
// category into a structured "component" field.
type BridgeWriter struct {
	logger    *slog.Logger
	component string
}

// NewBridgeWriter creates a writer that forwards writes to slog.
// The defaultComponent is used when no [CATEGORY] prefix is found.
func NewBridgeWriter(defaultComponent string) *BridgeWriter {
	return &BridgeWriter{
		logger:    Logger(),
		component: defaultComponent,
	}
}

// Write implements io.Writer. Each write is treated as one log line.
// It strips the standard log timestamp prefix (if present from log.SetFlags)
// and parses [CATEGORY] prefixes into structured fields.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := string(bytes.TrimSpace(p))
	if msg == "" {
		return n, nil
	}

	// Strip standard log timestamp prefix (e.g. "15:04:05.000000 ")
	// The stdlib log package prepends timestamps before writing to the output.
	// Since slog adds its own timestamp, we strip the legacy one.
	msg = stripLogTimestamp(msg)

	// Parse [CATEGORY] prefix
	component := bw.component
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx > 0 {
			component = strings.ToLower(msg[1:idx])
			msg = msg[idx+2:]
		}
	}

	// Map known category prefixes to canonical component names
	component = canonicalComponent(component)

	bw.logger.Info(msg, slog.String("component", component))
	return n, nil
}

// stripLogTimestamp removes the time prefix added by log.SetFlags(log.Ltime|log.Lmicroseconds).
// Format: "HH:MM:SS.ffffff " (16 chars).
func stripLogTimestamp(s string) string {
	// log.Ltime|log.Lmicroseconds produces "15:04:05.000000 "
	if len(s) > 16 && s[2] == ':' && s[5] == ':' && s[8] == '.' && s[15] == ' ' {
		return s[16:]
	}
	// log.Ltime produces "15:04:05 "
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}

// canonicalComponent maps known log prefixes to canonical component names.
func canonicalComponent(cat string) string {
	switch cat {
	case "session", "session-data":
		return CompSession
	case "store", "storage":
		return CompStore
	case "orchestrator", "pipeline":
		return CompOrchestrator
	case "sandbox", "cgroup", "setrlimit":
		return CompSandbox
	case "slot":
		return CompSlot
	case "resource", "oom":
		return CompResource
	case "liveness":
		return CompLiveness
	case "transport", "acp":
		return CompTransport
	case "batch", "plan":
		return CompBatch
	case "audit":
		return CompAudit
	case "index":
		return CompIndex
	case "pool", "mcp", "mcp-hub", "socket-proxy":
		return CompPool
	case "lockstore", "weave":
		return CompLockstore
	case "ratelimit":
		return CompRatelimit
	default:
		return cat
	}
}
