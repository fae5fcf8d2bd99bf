package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareNotRequiredNeverErrors(t *testing.T) {
	t.Parallel()

	plan, err := Prepare("codex", false, 1024, 64)
	require.NoError(t, err)
	require.NotNil(t, plan)
}

func TestPlanWrapArgvNoopWhenNotCgroup(t *testing.T) {
	t.Parallel()

	plan := &Plan{Capability: CapabilitySetrlimit}
	argv := []string{"codex", "--flag"}
	assert.Equal(t, argv, plan.WrapArgv(argv))
}

func TestPlanWrapArgvWrapsUnderCgroup(t *testing.T) {
	t.Parallel()

	plan := &Plan{Capability: CapabilityCgroupV2, ScopeName: "csa-codex-test", MemoryMaxMB: 512}
	argv := []string{"codex", "--flag"}
	wrapped := plan.WrapArgv(argv)
	assert.Contains(t, wrapped, "systemd-run")
	assert.Contains(t, wrapped, "codex")
	assert.Contains(t, wrapped, "--flag")
}

func TestPlanApplyToCurrentProcessNoopUnderCgroup(t *testing.T) {
	t.Parallel()

	plan := &Plan{Capability: CapabilityCgroupV2}
	assert.NoError(t, plan.ApplyToCurrentProcess())
}
