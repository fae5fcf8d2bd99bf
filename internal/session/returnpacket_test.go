package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReturnPacketWellFormed(t *testing.T) {
	t.Parallel()

	body := `
status = "success"
exit_code = 0
summary = "did the thing"
changed_files = [{path = "internal/foo.go", action = "modify"}]
`
	rp := ParseReturnPacket(body)
	require.NotNil(t, rp)
	assert.Equal(t, "success", rp.Status)
	assert.Equal(t, 0, rp.ExitCode)
	require.Len(t, rp.ChangedFiles, 1)
	assert.Equal(t, ActionModify, rp.ChangedFiles[0].Action)
}

func TestParseReturnPacketMalformedTOMLDegradesToSyntheticFailure(t *testing.T) {
	t.Parallel()

	rp := ParseReturnPacket("this is not [ valid toml")
	require.NotNil(t, rp)
	assert.Equal(t, "failure", rp.Status)
	assert.Equal(t, 1, rp.ExitCode)
	assert.Contains(t, rp.ErrorContext, "parse failure")
}

func TestParseReturnPacketMissingStatusDegradesToSyntheticFailure(t *testing.T) {
	t.Parallel()

	rp := ParseReturnPacket(`summary = "no status field"`)
	require.NotNil(t, rp)
	assert.Equal(t, "failure", rp.Status)
	assert.Contains(t, rp.ErrorContext, "status")
}

func TestParseReturnPacketRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	body := `
status = "success"
changed_files = [{path = "../../etc/passwd", action = "modify"}]
`
	rp := ParseReturnPacket(body)
	require.NotNil(t, rp)
	assert.Equal(t, "failure", rp.Status)
	assert.Contains(t, rp.ErrorContext, "traversal")
}

func TestParseReturnPacketRejectsAbsolutePath(t *testing.T) {
	t.Parallel()

	body := `
status = "success"
changed_files = [{path = "/etc/passwd", action = "delete"}]
`
	rp := ParseReturnPacket(body)
	require.NotNil(t, rp)
	assert.Equal(t, "failure", rp.Status)
	assert.Contains(t, rp.ErrorContext, "absolute path")
}

func TestParseReturnPacketClampsSummary(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", ReturnPacketSummaryMaxLen+100)
	rp := ParseReturnPacket(`status = "success"
summary = "` + long + `"`)
	require.NotNil(t, rp)
	assert.Len(t, rp.Summary, ReturnPacketSummaryMaxLen)
}

func TestEncodeReturnPacketRoundTrips(t *testing.T) {
	t.Parallel()

	original := &ReturnPacket{
		Status:   "success",
		ExitCode: 0,
		Summary:  "done",
		ChangedFiles: []ChangedFile{
			{Path: "a.go", Action: ActionAdd},
		},
	}

	encoded, err := EncodeReturnPacket(original)
	require.NoError(t, err)

	decoded := ParseReturnPacket(encoded)
	require.NotNil(t, decoded)
	assert.Equal(t, original.Status, decoded.Status)
	assert.Equal(t, original.ChangedFiles, decoded.ChangedFiles)
}
