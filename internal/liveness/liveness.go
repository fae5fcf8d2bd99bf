// Package liveness implements the Liveness Probe: a
// filesystem-only signal to decide whether a tool session still appears to
// be doing work, used by the orchestrator to distinguish "slow" from
// "stuck" without depending on a live process handle.
package liveness

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	recentWindow     = 30 * time.Second
	outputLogFile    = "output.log"
	acpEventsLogFile = "output/acp-events.jsonl"
	stderrLogFile    = "stderr.log"
	snapshotFile     = ".liveness.snapshot"
	logsSubdir       = "logs"
	DefaultDeadAfter = 600 * time.Second
)

type snapshot struct {
	OutputLogSize *uint64 `toml:"output_log_size,omitempty"`
	AcpEventsSize *uint64 `toml:"acp_events_size,omitempty"`
	StderrLogSize *uint64 `toml:"stderr_log_size,omitempty"`
	RunLogSize    *uint64 `toml:"run_log_size,omitempty"`
}

// IsAlive reports whether sessionDir shows any sign of ongoing activity.
// Signal priority, any one of which is sufficient:
// 1. a live PID recorded in a *.lock file under locks/
// 2. growth or recent mtime on output.log / output/acp-events.jsonl
// 3. a recent write anywhere under sessionDir
// 4. growth or recent mtime on stderr.log or the newest logs/*.log file
func IsAlive(sessionDir string) bool {
	now  := time.Now()
	snap := loadSnapshot(sessionDir)

	processAlive   := hasLivePIDSignal(sessionDir)
	outputGrowth   := hasOutputGrowthSignal(sessionDir, now, &snap)
	sessionWrite   := hasRecentSessionWriteSignal(sessionDir, now)
	stderrActivity := hasStderrActivitySignal(sessionDir, now, &snap)

	saveSnapshot(sessionDir, &snap)

	return processAlive || outputGrowth || sessionWrite || stderrActivity
}

func hasLivePIDSignal(sessionDir string) bool {
	locksDir := filepath.Join(sessionDir, "locks")
	entries, err := os.ReadDir(locksDir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(locksDir, entry.Name()))
		if err != nil {
			continue
		}
		if pid, ok := extractPID(string(body)); ok && isProcessAlive(pid) {
			return true
		}
	}
	return false
}

func hasOutputGrowthSignal(sessionDir string, now time.Time, snap *snapshot) bool {
	outputPath := filepath.Join(sessionDir, outputLogFile)
	outputGrowth, outputSize := detectGrowth(outputPath, snap.OutputLogSize)
	snap.OutputLogSize = outputSize

	acpPath := filepath.Join(sessionDir, acpEventsLogFile)
	acpGrowth, acpSize := detectGrowth(acpPath, snap.AcpEventsSize)
	snap.AcpEventsSize = acpSize

	return outputGrowth || acpGrowth ||
		fileModifiedRecently(outputPath, now) || fileModifiedRecently(acpPath, now)
}

func hasRecentSessionWriteSignal(sessionDir string, now time.Time) bool {
	stack := []string{sessionDir}
	for len(stack) > 0 {
		dir   := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.Name() == snapshotFile {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.Mode()&os.ModeSymlink != 0 {
				continue
			}
			if entry.IsDir() {
				stack = append(stack, path)
				continue
			}
			if fileModifiedRecently(path, now) {
				return true
			}
		}
	}
	return false
}

func hasStderrActivitySignal(sessionDir string, now time.Time, snap *snapshot) bool {
	stderrPath := filepath.Join(sessionDir, stderrLogFile)
	stderrGrowth, stderrSize := detectGrowth(stderrPath, snap.StderrLogSize)
	snap.StderrLogSize = stderrSize

	latestRunLog := newestLogFile(sessionDir)
	var runGrowth bool
	if latestRunLog != "" {
		runGrowth, snap.RunLogSize = detectGrowth(latestRunLog, snap.RunLogSize)
	}

	return stderrGrowth ||
		(latestRunLog != "" && fileModifiedRecently(latestRunLog, now)) ||
		runGrowth ||
		fileModifiedRecently(stderrPath, now)
}

func newestLogFile(sessionDir string) string {
	logsDir := filepath.Join(sessionDir, logsSubdir)
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return ""
	}

	var newestPath string
	var newestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newestPath == "" || info.ModTime().After(newestTime) {
			newestPath = filepath.Join(logsDir, entry.Name())
			newestTime = info.ModTime()
		}
	}
	return newestPath
}

func detectGrowth(path string, previousSize *uint64) (bool, *uint64) {
	info, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	current := uint64(info.Size())
	growth  := previousSize != nil && current != *previousSize
	return growth, &current
}

func fileModifiedRecently(path string, now time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) <= recentWindow
}

func snapshotPath(sessionDir string) string {
	return filepath.Join(sessionDir, snapshotFile)
}

func loadSnapshot(sessionDir string) snapshot {
	var snap snapshot
	body, err := os.ReadFile(snapshotPath(sessionDir))
	if err != nil {
		return snap
	}
	_      = toml.Unmarshal(body, &snap)
	return snap
}

func saveSnapshot(sessionDir string, snap *snapshot) {
	if snap.OutputLogSize == nil && snap.AcpEventsSize == nil &&
		snap.StderrLogSize == nil && snap.RunLogSize == nil {
		return
	}
	var sb strings.Builder
	enc := toml.NewEncoder(&sb)
	if err := enc.Encode(snap); err != nil {
		return
	}
	_ = os.WriteFile(snapshotPath(sessionDir), []byte(sb.String()), 0o644)
}

// extractPID pulls the integer value of a `"pid": <n>` field out of a JSON
// lock diagnostic body with a tolerant scan rather than a full JSON parse
// (the lock body format is shared with session.LockDiagnostic and
// slot.Diagnostic; both put pid first).
func extractPID(lockContent string) (int, bool) {
	idx := strings.Index(lockContent, `"pid"`)
	if idx < 0 {
		return 0, false
	}
	tail  := lockContent[idx:]
	colon := strings.IndexByte(tail, ':')
	if colon < 0 {
		return 0, false
	}
	rest := strings.TrimLeft(tail[colon+1:], " \t")
	end  := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
