// Package resource implements the Resource Guard: a memory-admission check
// run before every spawn, using current system memory plus a historical
// P95 estimate of each tool's peak RSS.
package resource

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/csa-dev/csa/internal/csaerr"
)

// historyLimit is the number of most-recent peak-RSS observations kept per
// tool when computing the P95 estimate.
const historyLimit = 20

// UsageStats is the per-project usage history persisted at stats.toml,
// keyed by tool name.
type UsageStats struct {
	History map[string][]uint64 `toml:"history"`
}

// LoadStats reads stats.toml at path, returning an empty UsageStats if the
// file doesn't exist; history persistence is best-effort.
func LoadStats(path string) (*UsageStats, error) {
	stats := &UsageStats{History: make(map[string][]uint64)}
	if _, err := toml.DecodeFile(path, stats); err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, nil // corrupt stats.toml degrades to empty history, not a hard error
	}
	if stats.History == nil {
		stats.History = make(map[string][]uint64)
	}
	return stats, nil
}

// Save atomically persists stats.toml (write to sibling.tmp, rename).
func (s *UsageStats) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return csaerr.NewIoError("creating stats directory", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return csaerr.NewParseError("encoding stats.toml", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return csaerr.NewIoError("writing stats.toml.tmp", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return csaerr.NewIoError("renaming stats.toml into place", err)
	}
	return nil
}

// Record appends a peak-RSS observation for tool, dropping the oldest entry
// once the history exceeds historyLimit.
func (s *UsageStats) Record(tool string, peakMB uint64) {
	if s.History == nil {
		s.History = make(map[string][]uint64)
	}
	entries := append(s.History[tool], peakMB)
	if len(entries) > historyLimit {
		entries = entries[len(entries)-historyLimit:]
	}
	s.History[tool] = entries
}

// P95Estimate returns the 95th-percentile peak-RSS observation for tool, or
// (0, false) if there's no history.
func (s *UsageStats) P95Estimate(tool string) (uint64, bool) {
	records := s.History[tool]
	if len(records) == 0 {
		return 0, false
	}

	sorted := make([]uint64, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(float64(len(sorted)) * 0.95))
	if idx > len(sorted) {
		idx = len(sorted)
	}
	idx--
	if idx < 0 {
		idx = 0
	}
	return sorted[idx], true
}
