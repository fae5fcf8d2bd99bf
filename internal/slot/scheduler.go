// Package slot implements the Slot Scheduler: per-tool global concurrency
// slots acquired via non-blocking file locks, so at most max_concurrent[tool]
// processes across the host hold a slot for that tool simultaneously.
package slot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
	"github.com/csa-dev/csa/internal/metrics"
)

var slotLog = logging.ForComponent(logging.CompSlot)

// Diagnostic is the JSON body written into a held slot file.
type Diagnostic struct {
	PID        int `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Nonce      string `json:"nonce"`
}

// Guard represents a held slot. Release must be called exactly once to
// free it; it removes the flock and the slot file's diagnostic body (the
// file itself is left in place, truncated, for the next acquirer).
type Guard struct {
	file  *os.File
	path  string
	tool  string
	nonce string
}

// Nonce returns the per-acquisition id written into this guard's slot
// file, distinguishing one holder's occupancy from the next holder of the
// same numbered slot when correlating logs across processes.
func (g *Guard) Nonce() string {
	return g.nonce
}

// Status reports slot occupancy for a tool when acquisition fails.
type Status struct {
	Tool     string
	Occupied int
	Max      int
}

func (s Status) String() string {
	return fmt.Sprintf("%s: %d/%d slots occupied", s.Tool, s.Occupied, s.Max)
}

// slotsDir returns <runtimeDir>/slots/<tool>.
func slotsDir(runtimeDir, tool string) string {
	return filepath.Join(runtimeDir, "slots", tool)
}

// TryAcquireSlot iterates slot numbers [0, max) under runtimeDir, attempting
// a non-blocking flock on each. The first one acquired gets a fresh
// Diagnostic written and is returned. If a slot's holder PID is dead, the
// slot is reclaimed rather than treated as occupied.
func TryAcquireSlot(runtimeDir, tool string, max int) (*Guard, *Status, error) {
	dir := slotsDir(runtimeDir, tool)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, csaerr.NewIoError("creating slots directory", err)
	}

	occupied := 0
	for n := 0; n < max; n++ {
		path := filepath.Join(dir, fmt.Sprintf("%d.slot", n))
		guard, acquired, err := tryLockSlot(path)
		if err != nil {
			return nil, nil, err
		}
		if acquired {
			guard.tool = tool
			metrics.SlotAcquired(tool)
			slotLog.Info("slot_acquired", slog.String("tool", tool), slog.String("path", path), slog.String("nonce", guard.nonce))
			return guard, nil, nil
		}
		occupied++
	}

	status := &Status{Tool: tool, Occupied: occupied, Max: max}
	return nil, status, csaerr.NewSlotExhausted(tool, max, nil)
}

// tryLockSlot attempts to acquire path as a slot. If held by a dead
// process, it reclaims the slot.
func tryLockSlot(path string) (*Guard, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, csaerr.NewIoError("opening slot file "+path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if err == syscall.EWOULDBLOCK {
			if reclaimDeadHolder(path) {
				// Retry once. The kernel drops a flock when its holder
				// exits, so this succeeds only if the lock was released
				// after the first attempt.
				if ferr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); ferr == nil {
					return writeDiagnostic(f, path)
				}
			}
			f.Close()
			return nil, false, nil
		}
		f.Close()
		return nil, false, csaerr.NewIoError("flock on "+path, err)
	}

	return writeDiagnostic(f, path)
}

func writeDiagnostic(f *os.File, path string) (*Guard, bool, error) {
	nonce := uuid.NewString()
	diag := Diagnostic{PID: os.Getpid(), AcquiredAt: time.Now().UTC(), Nonce: nonce}
	body, err := json.Marshal(diag)
	if err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, false, csaerr.NewIoError("marshaling slot diagnostic", err)
	}
	if err := f.Truncate(0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, false, csaerr.NewIoError("truncating slot file", err)
	}
	if _, err := f.WriteAt(body, 0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, false, csaerr.NewIoError("writing slot diagnostic", err)
	}
	return &Guard{file: f, path: path, nonce: nonce}, true, nil
}

// reclaimDeadHolder reports whether the slot at path is held by a PID that
// is no longer alive, per the kill(pid, 0) probe documented here. It does not
// itself unlock anything — flock is process-scoped and releases
// automatically when a dead holder's process exited, so the subsequent
// flock retry is what actually reclaims it. This just decides whether a
// retry is worth attempting.
func reclaimDeadHolder(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var diag Diagnostic
	if err := json.Unmarshal(data, &diag); err != nil || diag.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(diag.PID)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

// AcquireWithWait polls TryAcquireSlot with exponential backoff until ctx
// is done or the backoff's maximum elapsed time passes, returning the guard
// on success or, on expiry, a Timeout (TimeoutSlotWait) error carrying the
// last observed Status.
func AcquireWithWait(ctx context.Context, runtimeDir, tool string, max int) (*Guard, error) {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	var guard *Guard
	var lastStatus *Status
	op := func() error {
		g, status, err := TryAcquireSlot(runtimeDir, tool, max)
		if err == nil {
			guard = g
			return nil
		}
		if _, ok := csaerr.KindOf(err); ok && status != nil {
			lastStatus = status
			return err // retryable
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, b); err != nil {
		if lastStatus != nil {
			slotLog.Warn("slot_wait_timeout", slog.String("tool", tool),
				slog.Int("occupied", lastStatus.Occupied), slog.Int("max", lastStatus.Max))
			return nil, csaerr.NewTimeout(csaerr.TimeoutSlotWait, lastStatus.String())
		}
		return nil, err
	}
	return guard, nil
}

// Release drops the flock, clears the diagnostic body, and closes the fd.
func (g *Guard) Release() error {
	if g.file == nil {
		return nil
	}
	g.file.Truncate(0)
	syscall.Flock(int(g.file.Fd()), syscall.LOCK_UN)
	err := g.file.Close()
	g.file = nil
	if g.tool != "" {
		metrics.SlotReleased(g.tool)
	}
	return err
}

// Path returns the slot file path this guard holds.
func (g *Guard) Path() string {
	return g.path
}
