package transport

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveHeartbeatIntervalDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv(HeartbeatIntervalEnv)

	interval, ok := ResolveHeartbeatInterval()
	assert.True(t, ok)
	assert.Equal(t, DefaultHeartbeatInterval, interval)
}

func TestResolveHeartbeatIntervalZeroDisables(t *testing.T) {
	require.NoError(t, os.Setenv(HeartbeatIntervalEnv, "0"))
	defer os.Unsetenv(HeartbeatIntervalEnv)

	interval, ok := ResolveHeartbeatInterval()
	assert.False(t, ok)
	assert.Zero(t, interval)
}

func TestResolveHeartbeatIntervalCustomValue(t *testing.T) {
	require.NoError(t, os.Setenv(HeartbeatIntervalEnv, "5"))
	defer os.Unsetenv(HeartbeatIntervalEnv)

	interval, ok := ResolveHeartbeatInterval()
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, interval)
}

func TestResolveHeartbeatIntervalInvalidFallsBackToDefault(t *testing.T) {
	require.NoError(t, os.Setenv(HeartbeatIntervalEnv, "not-a-number"))
	defer os.Unsetenv(HeartbeatIntervalEnv)

	interval, ok := ResolveHeartbeatInterval()
	assert.True(t, ok)
	assert.Equal(t, DefaultHeartbeatInterval, interval)
}

func TestHeartbeatMaybeEmitRespectsIdleAndRepeatThresholds(t *testing.T) {
	t.Parallel()

	hb := NewHeartbeat(time.Second, 10*time.Second)
	start := hb.executionStart

	// Not idle long enough yet: no emission (lastHeartbeat unchanged).
	hb.MaybeEmit(start.Add(500*time.Millisecond), start)
	assert.Equal(t, start, hb.lastHeartbeat)

	// Idle long enough: emits and updates lastHeartbeat.
	emitTime := start.Add(2 * time.Second)
	hb.MaybeEmit(emitTime, start)
	assert.Equal(t, emitTime, hb.lastHeartbeat)

	// Too soon after the last heartbeat: suppressed even though still idle.
	hb.MaybeEmit(emitTime.Add(200*time.Millisecond), start)
	assert.Equal(t, emitTime, hb.lastHeartbeat)
}
