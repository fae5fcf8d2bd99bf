package sandbox

import (
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
)

var sandboxLog = logging.ForComponent(logging.CompSandbox)

// Plan describes how a tool invocation should be isolated, decided once
// per launch by Prepare.
type Plan struct {
	Capability  Capability
	ScopeName   string // set when Capability == CapabilityCgroupV2
	MemoryMaxMB int
	PidsMax     uint64
}

// Prepare decides the sandbox Plan for a launch: it detects the host's
// capability, and if required is true and no isolation mechanism is
// available at all, it refuses.
func Prepare(toolName string, required bool, memoryMaxMB int, pidsMax uint64) (*Plan, error) {
	cap := Detect()
	if required && cap == CapabilityNone {
		return nil, csaerr.NewSandboxRequiredButUnavailable(
			"no cgroup v2 systemd user scope and no setrlimit available on this host")
	}

	plan := &Plan{Capability: cap, MemoryMaxMB: memoryMaxMB, PidsMax: pidsMax}
	if cap == CapabilityCgroupV2 {
		plan.ScopeName = "csa-" + toolName + "-" + randomSuffix()
	}
	sandboxLog.Debug("sandbox_plan", slog.String("tool", toolName), slog.String("capability", cap.String()))
	return plan, nil
}

// WrapArgv applies the plan's isolation mechanism to argv for process
// transports that exec the returned argv directly (cgroup scopes). For
// CapabilitySetrlimit the argv is unchanged; ApplyToCurrentProcess must be
// called in the child after fork instead (e.g. from a pre-exec hook).
func (p *Plan) WrapArgv(argv []string) []string {
	if p.Capability != CapabilityCgroupV2 {
		return argv
	}
	return WrapWithCgroupScope(p.ScopeName, p.MemoryMaxMB, argv)
}

// ApplyToCurrentProcess applies setrlimit/oom_score_adj enforcement to the
// calling process. It is a no-op under CapabilityCgroupV2 (the scope
// already enforces the memory ceiling) and under CapabilityNone.
func (p *Plan) ApplyToCurrentProcess() error {
	if p.Capability != CapabilitySetrlimit {
		return nil
	}
	if p.PidsMax > 0 {
		if err := applyNprocLimit(p.PidsMax); err != nil {
			sandboxLog.Warn("setrlimit_nproc_failed", slog.String("error", err.Error()))
		}
	}
	if err := raiseOomScoreAdj(); err != nil {
		sandboxLog.Warn("oom_score_adj_failed", slog.String("error", err.Error()))
	}
	return nil
}

func randomSuffix() string {
	return strings.ToLower(ulid.Make().String()[:8])
}
