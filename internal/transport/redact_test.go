package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactorLiteralPattern(t *testing.T) {
	t.Parallel()

	r := NewRedactor(RawRedactionPatterns{Patterns: []string{"topsecret"}})
	out := r.Redact("the value is topsecret here")
	assert.NotContains(t, out, "topsecret")
	assert.Contains(t, out, redactedPlaceholder)
}

func TestRedactorRegexPattern(t *testing.T) {
	t.Parallel()

	r := NewRedactor(RawRedactionPatterns{Patterns: []string{`re:sk-ant-[A-Za-z0-9]+`}})
	out := r.Redact("token=sk-ant-abc123XYZ done")
	assert.NotContains(t, out, "sk-ant-abc123XYZ")
	assert.Contains(t, out, redactedPlaceholder)
}

func TestRedactorInvalidRegexSkippedNotFatal(t *testing.T) {
	t.Parallel()

	r := NewRedactor(RawRedactionPatterns{Patterns: []string{"re:("}})
	out := r.Redact("unaffected text")
	assert.Equal(t, "unaffected text", out)
}

func TestRedactorNilReceiverReturnsInputUnchanged(t *testing.T) {
	t.Parallel()

	var r *Redactor
	assert.Equal(t, "as-is", r.Redact("as-is"))
}

func TestRedactorNoPatternsLeavesTextUnchangedAbsentGitleaksFindings(t *testing.T) {
	t.Parallel()

	r := NewRedactor(RawRedactionPatterns{})
	out := r.Redact("plain log line with no secrets")
	assert.Equal(t, "plain log line with no secrets", out)
}
