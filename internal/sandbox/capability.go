// Package sandbox implements the Sandbox Enforcer: best-effort
// resource isolation for child processes, preferring a cgroup v2 systemd
// user scope, falling back to POSIX setrlimit + oom_score_adj, and refusing
// to run at all when the config demands a sandbox that isn't available.
package sandbox

import (
	"os"
	"os/exec"
	"sync"

	"github.com/csa-dev/csa/internal/platform"
)

// Capability is the resource-isolation mechanism available on this host.
type Capability int

const (
	CapabilityNone Capability = iota
	CapabilitySetrlimit
	CapabilityCgroupV2
)

func (c Capability) String() string {
	switch c {
	case CapabilityCgroupV2:
		return "cgroup_v2"
	case CapabilitySetrlimit:
		return "setrlimit"
	default:
		return "none"
	}
}

var (
	probeOnce sync.Once
	probeResult Capability
)

// Detect returns the sandbox capability available on this host, probing
// only once per process lifetime.
func Detect() Capability {
	probeOnce.Do(func() {
		probeResult = probeCapability()
	})
	return probeResult
}

func probeCapability() Capability {
	if platform.SupportsCgroupV2() && hasCgroupV2() && hasSystemdUserScope() {
		return CapabilityCgroupV2
	}
	if hasSetrlimit() {
		return CapabilitySetrlimit
	}
	return CapabilityNone
}

func hasCgroupV2() bool {
	_, err := os.Stat("/sys/fs/cgroup/cgroup.controllers")
	return err == nil
}

// hasSystemdUserScope runs a trivial command inside a transient systemd
// user scope to confirm scope creation actually works, rather than trusting
// systemd's presence alone (older systemd releases accept --dry-run but not
// real scope creation, and vice versa).
func hasSystemdUserScope() bool {
	cmd := exec.Command("systemd-run", "--user", "--scope", "--quiet", "/bin/true")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

func hasSetrlimit() bool {
	return platform.Detect() == platform.PlatformLinux ||
		platform.Detect() == platform.PlatformMacOS ||
		platform.Detect() == platform.PlatformWSL2
}

// SystemdVersion returns the systemd-run version string, if present, for
// diagnostics surfaced by `csa doctor`-style commands.
func SystemdVersion() (string, bool) {
	out, err := exec.Command("systemd-run", "--version").Output()
	if err != nil {
		return "", false
	}
	return firstLine(string(out)), true
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
