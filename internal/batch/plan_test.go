package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStepToolExplicitBash(t *testing.T) {
	t.Parallel()
	step := &PlanStep{Tool: "bash"}
	target, err := ResolveStepTool(step, "")
	require.NoError(t, err)
	assert.Equal(t, StepTargetBash, target.Kind)
}

func TestResolveStepToolExplicitCodex(t *testing.T) {
	t.Parallel()
	step := &PlanStep{Tool: "codex"}
	target, err := ResolveStepTool(step, "")
	require.NoError(t, err)
	assert.Equal(t, StepTargetCsaTool, target.Kind)
	assert.Equal(t, "codex", target.ToolName)
}

func TestResolveStepToolFallbackNoConfig(t *testing.T) {
	t.Parallel()
	step := &PlanStep{}
	target, err := ResolveStepTool(step, "")
	require.NoError(t, err)
	assert.Equal(t, "codex", target.ToolName)
}

func TestResolveStepToolWeaveReturnsIncludeMarker(t *testing.T) {
	t.Parallel()
	step := &PlanStep{Tool: "weave"}
	target, err := ResolveStepTool(step, "")
	require.NoError(t, err)
	assert.Equal(t, StepTargetWeaveInclude, target.Kind)
	assert.Equal(t, "weave-include", target.ModelSpec)
}

func TestResolveStepToolUnknownToolErrors(t *testing.T) {
	t.Parallel()
	step := &PlanStep{Tool: "nonexistent"}
	_, err := ResolveStepTool(step, "")
	assert.Error(t, err)
}

func dummyDispatch(exitCode int, output string) func(context.Context, *PlanStep, map[string]string) (StepExecutionOutcome, error) {
	return func(context.Context, *PlanStep, map[string]string) (StepExecutionOutcome, error) {
		return StepExecutionOutcome{ExitCode: exitCode, Output: output}, nil
	}
}

func TestExecuteStepSkipsConditionWithNonzeroExit(t *testing.T) {
	t.Parallel()
	step := &PlanStep{ID: 1, Title: "conditional", Tool: "bash", Prompt: "echo test", Condition: "${SOME_VAR}"}
	result := ExecuteStep(context.Background(), step, map[string]string{}, t.TempDir(), dummyDispatch(0, ""))
	assert.True(t, result.Skipped)
	assert.NotZero(t, result.ExitCode, "unsupported skip must not masquerade as success")
}

func TestExecuteStepSkipsLoopWithNonzeroExit(t *testing.T) {
	t.Parallel()
	step := &PlanStep{ID: 1, Title: "loop", Tool: "bash", Prompt: "echo test",
		LoopVar: &LoopSpec{Variable: "item", Collection: "${ITEMS}", MaxIterations: 10}}
	result := ExecuteStep(context.Background(), step, map[string]string{}, t.TempDir(), dummyDispatch(0, ""))
	assert.True(t, result.Skipped)
	assert.NotZero(t, result.ExitCode)
}

func TestExecuteStepSkipsWeaveInclude(t *testing.T) {
	t.Parallel()
	step := &PlanStep{ID: 1, Title: "include security-audit", Tool: "weave", Prompt: "INCLUDE security-audit"}
	result := ExecuteStep(context.Background(), step, map[string]string{}, t.TempDir(), dummyDispatch(0, ""))
	assert.True(t, result.Skipped)
	assert.Equal(t, 0, result.ExitCode, "INCLUDE skip should be success (harmless)")
}

func TestExecuteStepBashRunsCodeBlock(t *testing.T) {
	t.Parallel()
	step := &PlanStep{ID: 1, Title: "echo test", Tool: "bash", Prompt: "Run this:\n```bash\necho hello\n```\n"}
	result := ExecuteStep(context.Background(), step, map[string]string{}, t.TempDir(), func(ctx context.Context, s *PlanStep, vars map[string]string) (StepExecutionOutcome, error) {
		return ExecuteBashStep(ctx, s.Title, SubstituteVars(s.Prompt, vars), vars, t.TempDir())
	})
	assert.False(t, result.Skipped)
	assert.Equal(t, 0, result.ExitCode)
}

func TestExecuteStepOnFailSkipCoercesFailure(t *testing.T) {
	t.Parallel()
	step := &PlanStep{ID: 1, Title: "step", Tool: "codex", Prompt: "do it", OnFail: FailAction{Kind: FailSkip}}
	result := ExecuteStep(context.Background(), step, map[string]string{}, t.TempDir(), dummyDispatch(1, "boom"))
	assert.False(t, result.Skipped, "on_fail:skip records the failure, it doesn't mark the step as a structural skip")
	assert.Equal(t, 1, result.ExitCode)
}

func TestExecuteStepOnFailRetrySucceedsOnSecondAttempt(t *testing.T) {
	t.Parallel()
	attempt := 0
	dispatch := func(context.Context, *PlanStep, map[string]string) (StepExecutionOutcome, error) {
		attempt++
		if attempt < 2 {
			return StepExecutionOutcome{ExitCode: 1}, nil
		}
		return StepExecutionOutcome{ExitCode: 0, Output: "ok"}, nil
	}
	step := &PlanStep{ID: 1, Title: "step", Tool: "codex", Prompt: "do it", OnFail: FailAction{Kind: FailRetry, N: 2}}
	result := ExecuteStep(context.Background(), step, map[string]string{}, t.TempDir(), dispatch)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, 2, attempt)
}

func TestExecuteStepOnFailDelegateSwitchesTool(t *testing.T) {
	t.Parallel()
	var toolUsed string
	dispatch := func(_ context.Context, s *PlanStep, _ map[string]string) (StepExecutionOutcome, error) {
		toolUsed = s.Tool
		if s.Tool == "codex" {
			return StepExecutionOutcome{ExitCode: 1}, nil
		}
		return StepExecutionOutcome{ExitCode: 0}, nil
	}
	step := &PlanStep{ID: 1, Title: "step", Tool: "codex", Prompt: "do it",
		OnFail: FailAction{Kind: FailDelegate, Delegate: "gemini-cli"}}
	result := ExecuteStep(context.Background(), step, map[string]string{}, t.TempDir(), dispatch)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "gemini-cli", toolUsed)
}

func TestParseFailActionVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want FailAction
	}{
		{"", FailAction{Kind: FailAbort}},
		{"abort", FailAction{Kind: FailAbort}},
		{"skip", FailAction{Kind: FailSkip}},
		{"retry(3)", FailAction{Kind: FailRetry, N: 3}},
		{"delegate(codex)", FailAction{Kind: FailDelegate, Delegate: "codex"}},
	}
	for _, tt := range tests {
		got, err := ParseFailAction(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseFailActionInvalidRetryErrors(t *testing.T) {
	t.Parallel()
	_, err := ParseFailAction("retry(abc)")
	assert.Error(t, err)
}

func TestParseFailActionUnknownDirectiveErrors(t *testing.T) {
	t.Parallel()
	_, err := ParseFailAction("explode")
	assert.Error(t, err)
}
