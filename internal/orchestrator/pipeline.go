package orchestrator

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/csa-dev/csa/internal/liveness"
	"github.com/csa-dev/csa/internal/logging"
	"github.com/csa-dev/csa/internal/metrics"
	"github.com/csa-dev/csa/internal/resource"
	"github.com/csa-dev/csa/internal/sandbox"
	"github.com/csa-dev/csa/internal/session"
	"github.com/csa-dev/csa/internal/slot"
	"github.com/csa-dev/csa/internal/transport"
)

var pipelineLog = logging.ForComponent(logging.CompOrchestrator)

// RunRequest describes a single tool invocation a caller wants the
// pipeline to carry out, either against a freshly created session or,
// when ExistingSession is set, against that already-loaded session.
type RunRequest struct {
	Tool            string
	ProjectPath     string
	Argv            []string
	Stdin           []byte
	RuntimeDir      string // root for slot files
	ExistingSession *session.MetaSessionState
	MaxConcurrent   int
	SandboxRequired  bool
	MemoryMaxMB      int
	PidsMax          uint64
	IdleTimeout      time.Duration
	TerminationGrace time.Duration
	Redactor         *transport.Redactor
	Genealogy        session.Genealogy
	// SignalReason, when set, reports which signal (if any) caused ctx to
	// be canceled: "sigint" | "sigterm" | "". Nil means "never signaled".
	SignalReason func() string
}

// RunOutcome is everything the pipeline produced about one invocation.
type RunOutcome struct {
	State             *session.MetaSessionState
	Result            *transport.Result
	ProviderSessionID string
	SandboxMode       string
}

// Run sequences one tool invocation end to end: resource
// admission, slot acquisition, sandbox preparation, process transport,
// peak-RSS recording, provider session extraction, and result persistence.
// Every step that fails returns promptly; slot and sandbox resources
// acquired before the failing step are always released before Run returns.
func Run(ctx context.Context, store *session.Store, guard *resource.Guard, req RunRequest) (outcome *RunOutcome, err error) {
	stageStart := time.Now()
	if err = guard.Admit(ctx, req.Tool); err != nil {
		return nil, err
	}
	metrics.ObservePipelineStage("admission", time.Since(stageStart).Seconds())

	stageStart = time.Now()
	var slotGuard *slot.Guard
	slotGuard, err = slot.AcquireWithWait(ctx, req.RuntimeDir, req.Tool, req.MaxConcurrent)
	if err != nil {
		return nil, err
	}
	metrics.ObservePipelineStage("slot_acquire", time.Since(stageStart).Seconds())
	defer func() {
		if releaseErr := slotGuard.Release(); releaseErr != nil {
			pipelineLog.Warn("slot_release_failed", slog.String("tool", req.Tool), slog.Any("error", releaseErr))
		}
	}()

	stageStart = time.Now()
	var plan *sandbox.Plan
	plan, err = sandbox.Prepare(req.Tool, req.SandboxRequired, req.MemoryMaxMB, req.PidsMax)
	if err != nil {
		return nil, err
	}
	metrics.ObservePipelineStage("sandbox_prepare", time.Since(stageStart).Seconds())

	state := req.ExistingSession
	if state == nil {
		id := session.NewSessionID()
		state, err = store.Create(id, req.ProjectPath, req.Tool, req.Genealogy)
		if err != nil {
			return nil, err
		}
	}
	sessionDir := store.SessionDir(state.ID)

	signalFn := req.SignalReason
	if signalFn == nil {
		signalFn = func() string { return "" }
	}
	cleanup := newCleanupGuard(store, state, req.Tool, time.Now().UTC(), signalFn)
	defer func() {
		if err != nil {
			cleanup.fire(ctx, err)
		}
	}()

	argv := plan.WrapArgv(req.Argv)
	envVars := transport.EnvVars{
		SessionID:  state.ID,
		ToolName:   req.Tool,
		SessionDir: sessionDir,
	}
	if state.Genealogy.ParentSessionID != "" {
		envVars.ParentSessionID = state.Genealogy.ParentSessionID
	}

	var monitor *resource.Monitor
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()

	var stdin io.Reader
	if len(req.Stdin) > 0 {
		stdin = bytes.NewReader(req.Stdin)
	}

	stageStart = time.Now()
	startedAt := stageStart.UTC()
	result, err := transport.Run(ctx, transport.Spec{
		Argv: argv,
		Dir: req.ProjectPath,
		Env: envVars.ToSlice(),
		Stdin: stdin,
		IdleTimeout: req.IdleTimeout,
		TerminationGrace: req.TerminationGrace,
		StreamMode: transport.StreamTeeToStderr,
		Redactor: req.Redactor,
		OnStart: func(pid int) {
			monitor = resource.StartMonitor(monitorCtx, int32(pid))
		},
	})
	if err != nil {
		return nil, err
	}
	metrics.ObservePipelineStage("transport_run", time.Since(stageStart).Seconds())
	cancelMonitor()
	if monitor != nil {
		guard.RecordUsage(req.Tool, monitor.Stop())
	}

	if acp, acpErr := transport.NewAcpWriter(sessionDir, req.Redactor); acpErr == nil {
		_ = acp.Write(transport.AcpEventToolCall, map[string]interface{}{
			"tool":           req.Tool,
			"correlation_id": transport.NewCorrelationID(),
			"exit_code":      result.ExitCode,
		})
		_ = acp.Write(transport.AcpEventMessage, map[string]interface{}{
			"summary": result.Summary,
		})
		_ = acp.Close()
	}

	stageStart = time.Now()

	providerID, _ := ExtractProviderSessionID(req.Tool, result.Stdout)

	ts := state.Tools[req.Tool]
	ts.LastActionSummary = result.Summary
	ts.LastExitCode = result.ExitCode
	ts.UpdatedAt = time.Now().UTC()
	if providerID != "" {
		ts.ProviderSessionID = providerID
	}
	if state.Tools == nil {
		state.Tools = make(map[string]session.ToolState)
	}
	state.Tools[req.Tool] = ts
	state.LastAccessedAt = time.Now().UTC()
	state.Sandbox = session.SandboxInfo{Mode: plan.Capability.String(), MemoryMaxMB: req.MemoryMaxMB}

	if err = store.SaveState(state); err != nil {
		return nil, err
	}

	resultStatus := session.StatusFromExitCode(result.ExitCode)
	resultExitCode := result.ExitCode
	if ctx.Err() != nil {
		resultStatus = session.StatusInterrupted
		switch signalFn() {
		case "sigint":
			resultExitCode = 130
		case "sigterm":
			resultExitCode = 143
		}
		state.TerminationReason = signalFn()
		if state.TerminationReason == "" {
			state.TerminationReason = "context_canceled"
		}
		if err = store.SaveState(state); err != nil {
			return nil, err
		}
		result.ExitCode = resultExitCode
	}

	sessionResult := &session.SessionResult{
		Status: resultStatus,
		ExitCode: resultExitCode,
		Summary: result.Summary,
		Tool: req.Tool,
		StartedAt: startedAt,
		CompletedAt: time.Now().UTC(),
	}
	if err = store.SaveResult(state.ID, sessionResult); err != nil {
		return nil, err
	}
	cleanup.disarm()
	metrics.ObservePipelineStage("persist", time.Since(stageStart).Seconds())

	alive := liveness.IsAlive(sessionDir)
	pipelineLog.Info("run_completed",
		slog.String("session_id", state.ID),
		slog.String("tool", req.Tool),
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("liveness_signal_after_exit", alive))

	return &RunOutcome{
		State: state,
		Result: result,
		ProviderSessionID: providerID,
		SandboxMode: plan.Capability.String(),
	}, nil
}
