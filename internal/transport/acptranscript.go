package transport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AcpEventType enumerates the ACP transcript's event kinds.
type AcpEventType string

const (
	AcpEventMessage  AcpEventType = "message"
	AcpEventThought  AcpEventType = "thought"
	AcpEventToolCall AcpEventType = "tool_call"
	AcpEventPlan     AcpEventType = "plan"
	AcpEventOther    AcpEventType = "other"
)

// acpSchemaVersion is the "v" field of every persisted transcript line.
const acpSchemaVersion = 1

// acpTranscriptRelPath mirrors internal/liveness and internal/session's
// output/acp-events.jsonl convention.
const acpTranscriptRelPath = "output/acp-events.jsonl"

// AcpWriter appends newline-delimited JSON events to a session's ACP
// transcript: one JSON object per line, `{v, seq, ts, type, data}`, each
// line individually redacted before it is written. seq is a per-writer
// monotonic counter, satisfying the transcript's strictly-increasing
// sequencing invariant for the life of one writer.
type AcpWriter struct {
	mu       sync.Mutex
	file     *os.File
	seq      uint64
	redactor *Redactor
}

// NewAcpWriter opens (creating if absent) sessionDir's ACP transcript file
// in append mode at 0600, the permission the transcript format requires.
func NewAcpWriter(sessionDir string, redactor *Redactor) (*AcpWriter, error) {
	path := filepath.Join(sessionDir, acpTranscriptRelPath)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &AcpWriter{file: f, redactor: redactor}, nil
}

// Write appends one event of eventType carrying data, stamping it with the
// next seq and the current time. The line is flushed (via File.Write,
// which is unbuffered) before Write returns, trivially satisfying the
// format's "flush every 64 KiB or 100 ms" bound by never batching at all.
func (w *AcpWriter) Write(eventType AcpEventType, data map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	record := map[string]interface{}{
		"v":    acpSchemaVersion,
		"seq":  w.seq,
		"ts":   time.Now().UTC().Format(time.RFC3339Nano),
		"type": string(eventType),
		"data": data,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	out := w.redactor.Redact(string(line))
	_, err = w.file.Write([]byte(out))
	return err
}

// NewCorrelationID returns a fresh id for linking a tool_call event to its
// externally-observed counterpart (e.g. an MCP Hub request), matching the
// Hub's own uuid-based lease ids.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Close releases the underlying file handle.
func (w *AcpWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
