package resource

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/time/rate"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
)

var guardLog = logging.ForComponent(logging.CompResource)

// defaultEstimateMB is the fallback peak-RSS estimate when a tool has
// neither recorded history nor an initial-estimate config entry.
const defaultEstimateMB = 500

// Limits configures a Guard's admission thresholds, mirroring the
// "resources" section of config.toml.
type Limits struct {
	MinFreeMemoryMB     uint64
	MinFreeSwapMB       uint64
	InitialEstimates    map[string]uint64
	AdmissionInterval   time.Duration // minimum spacing between admitted spawns per tool; zero disables pacing
}

// Guard is the Resource Guard: a memory-admission check consulted before
// every spawn.
type Guard struct {
	mu        sync.Mutex
	limits    Limits
	stats     *UsageStats
	statsPath string

	pacersMu sync.Mutex
	pacers   map[string]*rate.Limiter
}

// NewGuard loads (or initializes) the usage history at statsPath and
// returns a Guard using limits.
func NewGuard(limits Limits, statsPath string) (*Guard, error) {
	stats, err := LoadStats(statsPath)
	if err != nil {
		return nil, err
	}
	return &Guard{limits: limits, stats: stats, statsPath: statsPath, pacers: make(map[string]*rate.Limiter)}, nil
}

// Admit paces admission for tool via a per-tool token bucket (one token
// per AdmissionInterval, so a burst of queued batch steps can't all pass
// CheckAvailability's memory snapshot in the same instant) and then runs
// the ordinary memory/swap check.
func (g *Guard) Admit(ctx context.Context, tool string) error {
	if g.limits.AdmissionInterval > 0 {
		if err := g.pacer(tool).Wait(ctx); err != nil {
			return csaerr.NewTimeout(csaerr.TimeoutInit, "admission pacing: "+err.Error())
		}
	}
	return g.CheckAvailability(tool)
}

func (g *Guard) pacer(tool string) *rate.Limiter {
	g.pacersMu.Lock()
	defer g.pacersMu.Unlock()
	if l, ok := g.pacers[tool]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(g.limits.AdmissionInterval), 1)
	g.pacers[tool] = l
	return l
}

// CheckAvailability implements this module's admission rule: reject if
// available_mem_mb < min_free_memory_mb + estimated_tool_usage_mb, or if
// free swap is below the configured minimum. estimated_tool_usage_mb
// prefers the P95 historical estimate, falling back to the configured
// initial estimate, falling back to defaultEstimateMB.
func (g *Guard) CheckAvailability(tool string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	vm, err := mem.VirtualMemory()
	if err != nil {
		return csaerr.NewIoError("reading virtual memory stats", err)
	}
	sm, err := mem.SwapMemory()
	if err != nil {
		return csaerr.NewIoError("reading swap memory stats", err)
	}

	availableMB := vm.Available / 1024 / 1024
	freeSwapMB  := sm.Free / 1024 / 1024

	estimateMB := g.estimateUsage(tool)
	requiredMB := g.limits.MinFreeMemoryMB + estimateMB

	if availableMB < requiredMB {
		guardLog.Warn("oom_risk_memory",
			slog.String("tool", tool),
			slog.Uint64("available_mb", availableMB),
			slog.Uint64("required_mb", requiredMB),
			slog.Uint64("estimate_mb", estimateMB))
		return csaerr.NewOomRisk(int(availableMB), int(g.limits.MinFreeMemoryMB), int(estimateMB))
	}

	if freeSwapMB < g.limits.MinFreeSwapMB {
		guardLog.Warn("oom_risk_swap",
			slog.String("tool", tool),
			slog.Uint64("free_swap_mb", freeSwapMB),
			slog.Uint64("min_free_swap_mb", g.limits.MinFreeSwapMB))
		return csaerr.NewOomRisk(int(freeSwapMB), int(g.limits.MinFreeSwapMB), 0)
	}

	return nil
}

func (g *Guard) estimateUsage(tool string) uint64 {
	if est, ok := g.stats.P95Estimate(tool); ok {
		return est
	}
	if est, ok := g.limits.InitialEstimates[tool]; ok {
		return est
	}
	return defaultEstimateMB
}

// RecordUsage records a completed run's peak RSS and persists the updated
// history on a best-effort basis.
func (g *Guard) RecordUsage(tool string, peakMB uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stats.Record(tool, peakMB)
	if err := g.stats.Save(g.statsPath); err != nil {
		guardLog.Warn("stats_save_failed", slog.String("tool", tool), slog.String("error", err.Error()))
	}
}

// Stats returns the guard's current usage history, for inspection/testing.
func (g *Guard) Stats() *UsageStats {
	g.mu.Lock()
	defer  g.mu.Unlock()
	return g.stats
}

// StatsPath returns the conventional stats.toml location under a project's
// store directory.
func StatsPath(projectDir string) string {
	return filepath.Join(projectDir, "stats.toml")
}
