package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/csa-dev/csa/internal/csaerr"
)

// LockDiagnostic is the JSON body written into a held lock file, so a human
// (or `csa session status`) can tell who is holding it without needing to
// understand flock semantics.
type LockDiagnostic struct {
	PID        int `json:"pid"`
	ToolName   string `json:"tool_name"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// SessionLock is the per-tool advisory lock at
// <session-dir>/locks/<tool>.lock, preventing two runs of the same tool
// against the same session from racing each other. It wraps
// flock(2) for the actual exclusion and writes a JSON diagnostic body so the
// lock file is useful to read even while held.
type SessionLock struct {
	path string
	file *os.File
}

// NewSessionLock returns the lock for toolName in the given session
// directory. The locks/ subdirectory is created if missing.
func NewSessionLock(sessionDir, toolName string) (*SessionLock, error) {
	dir := filepath.Join(sessionDir, "locks")
	if err := ensureDir(dir); err != nil {
		return nil, csaerr.NewIoError("creating locks directory", err)
	}
	return &SessionLock{path: filepath.Join(dir, toolName+".lock")}, nil
}

// TryAcquire attempts a non-blocking exclusive lock. On success it
// overwrites the lock file with a fresh LockDiagnostic. On failure
// (LOCK_NB would block) it returns ok=false, nil — not an error, since a
// held lock is an expected outcome the caller branches on.
func (l *SessionLock) TryAcquire(toolName string) (ok bool, err error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, csaerr.NewIoError("opening lock file", err)
	}

	if ferr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); ferr != nil {
		f.Close()
		if ferr == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, csaerr.NewIoError("flock", ferr)
	}

	diag := LockDiagnostic{PID: os.Getpid(), ToolName: toolName, AcquiredAt: time.Now().UTC()}
	body, err := json.MarshalIndent(diag, "", " ")
	if err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return false, csaerr.NewIoError("marshaling lock diagnostic", err)
	}
	if err := f.Truncate(0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return false, csaerr.NewIoError("truncating lock file", err)
	}
	if _, err := f.WriteAt(body, 0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return false, csaerr.NewIoError("writing lock diagnostic", err)
	}

	l.file = f
	return true, nil
}

// Release drops the flock and closes the file. The lock file itself is left
// on disk (its next TryAcquire truncates and rewrites it) so ReadDiagnostic
// keeps working for forensic inspection between runs.
func (l *SessionLock) Release() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadDiagnostic reads the JSON diagnostic body of the lock at path without
// acquiring it, for status reporting.
func ReadDiagnostic(path string) (*LockDiagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, csaerr.NewIoError("reading lock file", err)
	}
	var diag LockDiagnostic
	if err := json.Unmarshal(data, &diag); err != nil {
		return nil, csaerr.NewParseError("parsing lock diagnostic", err)
	}
	return &diag, nil
}

// IsHeldByLiveProcess reports whether the lock at path is held by a PID that
// is still alive, using kill(pid, 0) as a liveness probe (the same
// zero-signal technique the slot package uses for dead-holder reclaim).
func IsHeldByLiveProcess(path string) (bool, *LockDiagnostic) {
	diag, err := ReadDiagnostic(path)
	if err != nil || diag.PID <= 0 {
		return false, diag
	}
	proc, err := os.FindProcess(diag.PID)
	if err != nil {
		return false, diag
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false, diag
	}
	return true, diag
}
