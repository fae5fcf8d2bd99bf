package sandbox

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectReturnsConsistentResult(t *testing.T) {
	first := Detect()
	second := Detect()
	assert.Equal(t, first, second, "cached result must be stable")
}

func TestCapabilityStringVariants(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cgroup_v2", CapabilityCgroupV2.String())
	assert.Equal(t, "setrlimit", CapabilitySetrlimit.String())
	assert.Equal(t, "none", CapabilityNone.String())
}

func TestHasCgroupV2MatchesFilesystem(t *testing.T) {
	t.Parallel()

	_, err := os.Stat("/sys/fs/cgroup/cgroup.controllers")
	assert.Equal(t, err == nil, hasCgroupV2())
}
