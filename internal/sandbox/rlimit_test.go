//go:build linux || darwin

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentNprocLimitRuns(t *testing.T) {
	t.Parallel()
	_, _ = currentNprocLimit()
}

func TestRaiseOomScoreAdjSucceeds(t *testing.T) {
	t.Parallel()
	assert.NoError(t, raiseOomScoreAdj())
}
