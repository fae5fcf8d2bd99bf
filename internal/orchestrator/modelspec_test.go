package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelSpecValid(t *testing.T) {
	t.Parallel()

	spec, err := ParseModelSpec("opencode/google/gemini-2.5-pro/high")
	require.NoError(t, err)
	assert.Equal(t, "opencode", spec.Tool)
	assert.Equal(t, "google", spec.Provider)
	assert.Equal(t, "gemini-2.5-pro", spec.Model)
	assert.Equal(t, "high", spec.ThinkingBudget.Tier)
}

func TestParseModelSpecCustomBudget(t *testing.T) {
	t.Parallel()

	spec, err := ParseModelSpec("codex/anthropic/claude-opus/5000")
	require.NoError(t, err)
	assert.Equal(t, "custom", spec.ThinkingBudget.Tier)
	assert.Equal(t, 5000, spec.ThinkingBudget.Custom)
}

func TestParseModelSpecWrongPartCount(t *testing.T) {
	t.Parallel()

	_, err := ParseModelSpec("opencode/google/gemini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected tool/provider/model/thinking_budget")
}

func TestParseThinkingBudgetVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantTier string
	}{
		{"low", "low"},
		{"LOW", "low"},
		{"medium", "medium"},
		{"med", "medium"},
		{"high", "high"},
		{"High", "high"},
		{"xhigh", "xhigh"},
		{"extra-high", "xhigh"},
		{"XHIGH", "xhigh"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			b, err := parseThinkingBudget(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, b.Tier)
		})
	}
}

func TestParseThinkingBudgetInvalid(t *testing.T) {
	t.Parallel()

	_, err := parseThinkingBudget("invalid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid thinking budget")
}
