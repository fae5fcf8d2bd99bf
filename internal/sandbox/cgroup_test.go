package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapWithCgroupScopePreservesArgv(t *testing.T) {
	t.Parallel()

	argv := []string{"claude-code", "--resume", "abc123"}
	wrapped := WrapWithCgroupScope("csa-claude-1", 2048, argv)

	assert.Equal(t, "systemd-run", wrapped[0])
	assert.Contains(t, wrapped, "--unit=csa-claude-1")
	assert.Contains(t, wrapped, "--property=MemoryMax=2048M")
	assert.Equal(t, argv, wrapped[len(wrapped)-len(argv):])
}
