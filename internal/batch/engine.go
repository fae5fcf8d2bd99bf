package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// ExecuteStep dispatches one plan step, honoring its condition and
// loop_var gates before running it, and its on_fail policy afterward.
// dispatch performs the actual bash-or-tool invocation for a resolved,
// non-skipped step.
func ExecuteStep(ctx context.Context, step *PlanStep, vars map[string]string, projectDir string, dispatch func(ctx context.Context, step *PlanStep, vars map[string]string) (StepExecutionOutcome, error)) StepResult {
	startedAt := time.Now()
	label := fmt.Sprintf("[%d] %s", step.ID, step.Title)

	if step.LoopVar != nil {
		return StepResult{
			StepID: step.ID, Title: step.Title, Skipped: true, ExitCode: 1,
			Error:        "loop_var steps are compilation-only and are not executed",
			DurationSecs: time.Since(startedAt).Seconds(),
		}
	}

	if step.Condition != "" {
		resolved := SubstituteVars(step.Condition, vars)
		if !strings.EqualFold(resolved, "true") {
			return StepResult{
				StepID: step.ID, Title: step.Title, Skipped: true, ExitCode: 1,
				Error:        fmt.Sprintf("condition %q did not evaluate to a supported truthy form", step.Condition),
				DurationSecs: time.Since(startedAt).Seconds(),
			}
		}
	}

	target, err := ResolveStepTool(step, "")
	if err != nil {
		return StepResult{StepID: step.ID, Title: step.Title, ExitCode: 1, Error: err.Error(), DurationSecs: time.Since(startedAt).Seconds()}
	}
	if target.Kind == StepTargetWeaveInclude {
		return StepResult{
			StepID: step.ID, Title: step.Title, Skipped: true, ExitCode: 0,
			DurationSecs: time.Since(startedAt).Seconds(),
		}
	}

	outcome, execErr := runStepWithPolicy(ctx, label, step, vars, dispatch)
	result := StepResult{
		StepID:       step.ID,
		Title:        step.Title,
		ExitCode:     outcome.ExitCode,
		Output:       outcome.Output,
		SessionID:    outcome.SessionID,
		DurationSecs: time.Since(startedAt).Seconds(),
	}
	if execErr != nil {
		result.Error = execErr.Error()
		result.ExitCode = 1
	}
	return result
}

// runStepWithPolicy applies on_fail: Retry re-runs the dispatch up to N
// times, Skip coerces a failure into a non-fatal record, Abort and
// Delegate are left for the caller (RunPlan) to act on at the wave level
// since Abort must stop the whole plan and Delegate must re-dispatch
// under a different tool.
func runStepWithPolicy(ctx context.Context, label string, step *PlanStep, vars map[string]string, dispatch func(context.Context, *PlanStep, map[string]string) (StepExecutionOutcome, error)) (StepExecutionOutcome, error) {
	stepStartedAt := time.Now()
	outcome, err := RunWithHeartbeat(ctx, label, stepStartedAt, func() (StepExecutionOutcome, error) {
		return dispatch(ctx, step, vars)
	})
	if err == nil && outcome.ExitCode == 0 {
		return outcome, nil
	}

	switch step.OnFail.Kind {
	case FailRetry:
		for attempt := 0; attempt < step.OnFail.N; attempt++ {
			if outcome.FailureKind == FailureDeterministic {
				// A deterministic failure (bad args, permission denied, ...)
				// would reproduce identically on every retry.
				break
			}
			outcome, err = RunWithHeartbeat(ctx, label, time.Now(), func() (StepExecutionOutcome, error) {
				return dispatch(ctx, step, vars)
			})
			if err == nil && outcome.ExitCode == 0 {
				return outcome, nil
			}
		}
		return outcome, err
	case FailSkip:
		return outcome, err
	case FailDelegate:
		delegated := *step
		delegated.Tool = step.OnFail.Delegate
		outcome, err = RunWithHeartbeat(ctx, label, time.Now(), func() (StepExecutionOutcome, error) {
			return dispatch(ctx, &delegated, vars)
		})
		return outcome, err
	default: // FailAbort
		return outcome, err
	}
}

// RunPlan executes a plan's steps in dependency waves, threading each
// completed step's captured output into ${STEP_<id>_OUTPUT} for the
// steps that follow, and stopping the whole plan the first time an
// on_fail:Abort step fails.
func RunPlan(ctx context.Context, plan *ExecutionPlan, vars map[string]string, projectDir string, dispatch func(ctx context.Context, step *PlanStep, vars map[string]string) (StepExecutionOutcome, error)) ([]StepResult, error) {
	waves, err := BuildStepWaves(plan.Steps)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]*PlanStep, len(plan.Steps))
	for i := range plan.Steps {
		byID[plan.Steps[i].ID] = &plan.Steps[i]
	}

	merged := make(map[string]string, len(vars))
	for k, v := range vars {
		merged[k] = v
	}

	var results []StepResult
	for _, wave := range waves {
		for _, id := range wave {
			step := byID[id]
			result := ExecuteStep(ctx, step, merged, projectDir, dispatch)
			results = append(results, result)
			merged[fmt.Sprintf("STEP_%d_OUTPUT", step.ID)] = result.Output

			failed := !result.Skipped && result.ExitCode != 0
			if failed && step.OnFail.Kind == FailAbort {
				return results, fmt.Errorf("step %d (%s) failed and on_fail=abort: %s", step.ID, step.Title, result.Error)
			}
		}
	}
	return results, nil
}

// RunBatch executes a batch task list's waves, running every task within
// a wave concurrently (bounded by maxConcurrentPerWave) and stopping at
// the end of the wave that contained any failure.
func RunBatch(ctx context.Context, tasks []BatchTask, maxConcurrentPerWave int, run func(ctx context.Context, task *BatchTask) error) error {
	waves, err := BuildExecutionPlan(tasks)
	if err != nil {
		return err
	}
	byName := make(map[string]*BatchTask, len(tasks))
	for i := range tasks {
		byName[tasks[i].Name] = &tasks[i]
	}

	for _, wave := range waves {
		g, gctx := errgroup.WithContext(ctx)
		if maxConcurrentPerWave > 0 {
			g.SetLimit(maxConcurrentPerWave)
		}
		for _, name := range wave {
			task := byName[name]
			g.Go(func() error {
				return run(gctx, task)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
