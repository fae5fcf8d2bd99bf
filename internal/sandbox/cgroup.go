package sandbox

import (
	"fmt"
)

// WrapWithCgroupScope prepends a "systemd-run --user --scope" invocation to
// argv so the wrapped command runs inside its own transient cgroup v2 scope
// with the given memory ceiling, returning a new argv slice. Callers pass
// the result to their process transport instead of exec'ing argv directly.
// Only meaningful when Detect() returned CapabilityCgroupV2.
func WrapWithCgroupScope(scopeName string, memoryMaxMB int, argv []string) []string {
	wrapped := []string{
		"systemd-run", "--user", "--scope", "--quiet",
		"--unit=" + scopeName,
		fmt.Sprintf("--property=MemoryMax=%dM", memoryMaxMB),
		"--property=MemorySwapMax=0",
	}
	return append(wrapped, argv...)
}
