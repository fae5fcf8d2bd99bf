//go:build linux || darwin

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInflateRejectsZeroSize(t *testing.T) {
	t.Parallel()

	_, err := Inflate(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be > 0")
}

func TestInflateRejectsOverHardLimit(t *testing.T) {
	t.Parallel()

	_, err := Inflate(maxBalloonBytes + 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard limit")
}

func TestInflateReleaseRoundTrips(t *testing.T) {
	t.Parallel()

	b, err := Inflate(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, b.Size())
	assert.NoError(t, b.Release())
}

func TestShouldEnableBalloon(t *testing.T) {
	t.Parallel()

	assert.True(t, ShouldEnableBalloon(2<<30, 1<<30))
	assert.True(t, ShouldEnableBalloon(1024, 1024))
	assert.False(t, ShouldEnableBalloon(512, 1024))
	assert.False(t, ShouldEnableBalloon(^uint64(0), maxBalloonBytes+1))
	assert.True(t, ShouldEnableBalloon(0, 0))
}
