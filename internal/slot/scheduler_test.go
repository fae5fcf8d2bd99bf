package slot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-dev/csa/internal/csaerr"
)

func TestTryAcquireSlotSucceedsWhenFree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	guard, status, err := TryAcquireSlot(dir, "claude", 2)
	require.NoError(t, err)
	assert.Nil(t, status)
	require.NotNil(t, guard)
	defer guard.Release()

	assert.FileExists(t, guard.Path())
}

func TestTryAcquireSlotWritesDiagnostic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	guard, _, err := TryAcquireSlot(dir, "claude", 1)
	require.NoError(t, err)
	defer guard.Release()

	body, err := os.ReadFile(guard.Path())
	require.NoError(t, err)

	var diag Diagnostic
	require.NoError(t, json.Unmarshal(body, &diag))
	assert.Equal(t, os.Getpid(), diag.PID)
}

func TestTryAcquireSlotExhaustedReturnsStatus(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	g1, _, err := TryAcquireSlot(dir, "claude", 1)
	require.NoError(t, err)
	defer g1.Release()

	g2, status, err := TryAcquireSlot(dir, "claude", 1)
	require.Error(t, err)
	assert.Nil(t, g2)
	require.NotNil(t, status)
	assert.Equal(t, 1, status.Occupied)
	assert.Equal(t, 1, status.Max)

	kind, ok := csaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, csaerr.SlotExhausted, kind)
}

func TestTryAcquireSlotReclaimsDeadHolder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	slotFile := filepath.Join(dir, "slots", "claude", "0.slot")
	require.NoError(t, os.MkdirAll(filepath.Dir(slotFile), 0o755))

	diag := Diagnostic{PID: 1<<30 - 1, AcquiredAt: time.Now()}
	body, err := json.Marshal(diag)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(slotFile, body, 0o644))

	guard, _, err := TryAcquireSlot(dir, "claude", 1)
	require.NoError(t, err)
	require.NotNil(t, guard)
	guard.Release()
}

func TestReleaseAllowsReacquisition(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	g1, _, err := TryAcquireSlot(dir, "claude", 1)
	require.NoError(t, err)
	require.NoError(t, g1.Release())

	g2, status, err := TryAcquireSlot(dir, "claude", 1)
	require.NoError(t, err)
	assert.Nil(t, status)
	g2.Release()
}

func TestAcquireWithWaitTimesOutWhenExhausted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	holder, _, err := TryAcquireSlot(dir, "claude", 1)
	require.NoError(t, err)
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = AcquireWithWait(ctx, dir, "claude", 1)
	require.Error(t, err)
	kind, ok := csaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, csaerr.Timeout, kind)
}

func TestAcquireWithWaitSucceedsOnceFreed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	holder, _, err := TryAcquireSlot(dir, "claude", 1)
	require.NoError(t, err)

	go func() {
		time.Sleep(200 * time.Millisecond)
		holder.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	guard, err := AcquireWithWait(ctx, dir, "claude", 1)
	require.NoError(t, err)
	require.NotNil(t, guard)
	guard.Release()
}
