package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/csa-dev/csa/internal/logging"
	"github.com/csa-dev/csa/internal/orchestrator"
	"github.com/csa-dev/csa/internal/resource"
	"github.com/csa-dev/csa/internal/session"
	"github.com/csa-dev/csa/internal/transport"
)

var dispatchLog = logging.ForComponent(logging.CompBatch)

// DispatchOptions configures BuildDispatch's connection to the rest of
// the pipeline. ArgvBuilder turns a resolved tool name and a substituted
// prompt into the child process's argv; the per-tool CLI conventions
// (e.g. `codex exec <prompt>` vs `claude -p <prompt>`) belong to the CLI
// layer that wires up BuildDispatch, not to the DAG engine itself.
type DispatchOptions struct {
	Store            *session.Store
	Guard            *resource.Guard
	ProjectPath      string
	RuntimeDir       string
	MaxConcurrent    int
	SandboxRequired  bool
	MemoryMaxMB      int
	PidsMax          uint64
	TerminationGrace time.Duration
	Redactor         *transport.Redactor
	ForwardedSession string
	ArgvBuilder      func(tool, prompt string) []string
}

// BuildDispatch returns the dispatch function ExecuteStep/RunPlan drive:
// "bash" steps run directly; everything else resolves to a tool name and
// is handed to the pipeline orchestrator. The plan's forwarded session
// (if any) is offered to only the first CSA-tool step that runs; if it
// turns out to be stale, that one step falls back to a fresh session
// rather than failing the run.
func BuildDispatch(opts DispatchOptions) func(ctx context.Context, step *PlanStep, vars map[string]string) (StepExecutionOutcome, error) {
	forwardedOffered := false
	return func(ctx context.Context, step *PlanStep, vars map[string]string) (StepExecutionOutcome, error) {
		prompt := SubstituteVars(step.Prompt, vars)

		target, err := ResolveStepTool(step, "")
		if err != nil {
			return StepExecutionOutcome{}, err
		}
		if target.Kind == StepTargetBash {
			return ExecuteBashStep(ctx, step.Title, prompt, vars, opts.ProjectPath)
		}

		var existing *session.MetaSessionState
		usingForwarded := false
		if !forwardedOffered && opts.ForwardedSession != "" {
			forwardedOffered = true
			state, _, resumeErr := opts.Store.ResolveResume(opts.ForwardedSession, target.ToolName)
			if resumeErr == nil {
				existing = state
				usingForwarded = true
			} else if !IsStaleSessionError(resumeErr) {
				return StepExecutionOutcome{}, resumeErr
			} else {
				dispatchLog.Warn("forwarded_session_stale_falling_back",
					slog.String("session", opts.ForwardedSession), slog.String("tool", target.ToolName))
			}
		}

		req := orchestrator.RunRequest{
			Tool: target.ToolName,
			ProjectPath: opts.ProjectPath,
			Argv: opts.ArgvBuilder(target.ToolName, prompt),
			RuntimeDir: opts.RuntimeDir,
			ExistingSession: existing,
			MaxConcurrent: opts.MaxConcurrent,
			SandboxRequired: opts.SandboxRequired,
			MemoryMaxMB: opts.MemoryMaxMB,
			PidsMax: opts.PidsMax,
			TerminationGrace: opts.TerminationGrace,
			Redactor: opts.Redactor,
		}
		outcome, err := orchestrator.Run(ctx, opts.Store, opts.Guard, req)
		if err != nil && usingForwarded && IsStaleSessionError(err) {
			dispatchLog.Warn("forwarded_session_stale_falling_back",
				slog.String("session", opts.ForwardedSession), slog.String("tool", target.ToolName))
			req.ExistingSession = nil
			outcome, err = orchestrator.Run(ctx, opts.Store, opts.Guard, req)
		}
		if err != nil {
			return StepExecutionOutcome{FailureKind: ClassifyError(err, "")}, err
		}
		result := StepExecutionOutcome{
			ExitCode:  outcome.Result.ExitCode,
			Output:    outcome.Result.Summary,
			SessionID: outcome.State.ID,
		}
		if result.ExitCode != 0 {
			result.FailureKind = ClassifyOutcome(result, outcome.State, outcome.Result.Stderr, opts.Store.SessionDir(outcome.State.ID))
		}
		return result, nil
	}
}
