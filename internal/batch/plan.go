package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
)

var planLog = logging.ForComponent(logging.CompBatch)

// HeartbeatInterval is how often a long-running step logs a progress line.
const HeartbeatInterval = 20 * time.Second

// ValidateVariableName rejects anything that isn't a plausible
// environment-variable key, so a malformed plan variable can't be used
// to smuggle arbitrary flags into a spawned shell's environment.
func ValidateVariableName(name string) error {
	if name == "" {
		return csaerr.New(csaerr.ParseError, "environment variable name must not be empty")
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return csaerr.New(csaerr.ParseError, fmt.Sprintf("invalid environment variable name %q", name))
	}
	return nil
}

// ResolveStepTool decides what a step's tool field dispatches to:
// "bash" runs a shell script directly, "weave" marks an include directive
// handled elsewhere, anything else must name a known CSA tool (falling
// back to "codex" when the step leaves tool unset).
func ResolveStepTool(step *PlanStep, defaultTool string) (StepTarget, error) {
	switch step.Tool {
	case "bash":
		return StepTarget{Kind: StepTargetBash}, nil
	case "weave":
		return StepTarget{Kind: StepTargetWeaveInclude, ModelSpec: "weave-include"}, nil
	case "":
		tool := defaultTool
		if tool == "" {
			tool = "codex"
		}
		if _, err := ParseToolName(tool); err != nil {
			return StepTarget{}, err
		}
		return StepTarget{Kind: StepTargetCsaTool, ToolName: tool}, nil
	default:
		tool, err := ParseToolName(step.Tool)
		if err != nil {
			return StepTarget{}, err
		}
		return StepTarget{Kind: StepTargetCsaTool, ToolName: tool}, nil
	}
}

// ExtractBashCodeBlock returns the body of the first ```bash fence in a
// step's prompt, else the first ```sh fence, else the first plain ```
// fence, and false when none is present (ExecuteBashStep then runs the
// whole prompt).
func ExtractBashCodeBlock(prompt string) (string, bool) {
	for _, fence := range []string{"```bash\n", "```sh\n", "```\n"} {
		start := strings.Index(prompt, fence)
		if start < 0 {
			continue
		}
		codeStart := start + len(fence)
		end := strings.Index(prompt[codeStart:], "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(prompt[codeStart : codeStart+end]), true
	}
	return "", false
}

// Truncate trims s to its first line, capped at maxLen bytes, appending
// "..." when it had to cut.
func Truncate(s string, maxLen int) string {
	firstLine := s
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine = s[:idx]
	}
	if len(firstLine) > maxLen {
		return firstLine[:maxLen] + "..."
	}
	return firstLine
}

// IsStaleSessionError reports whether err indicates a forwarded session
// is retired or unknown, so the caller can fall back to a fresh session
// instead of failing the whole step.
func IsStaleSessionError(err error) bool {
	if kind, ok := csaerr.KindOf(err); ok {
		return kind == csaerr.SessionNotFound || kind == csaerr.InvalidSessionID
	}
	msg := err.Error()
	return strings.Contains(msg, "No session matching prefix") || strings.Contains(msg, "Invalid session ID")
}

// RunWithHeartbeat runs execution to completion, logging a progress line
// every HeartbeatInterval while it is still in flight.
func RunWithHeartbeat(ctx context.Context, label string, stepStartedAt time.Time, execution func() (StepExecutionOutcome, error)) (StepExecutionOutcome, error) {
	done := make(chan struct{})
	var outcome StepExecutionOutcome
	var execErr error
	go func() {
		outcome, execErr = execution()
		close(done)
	}()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return outcome, execErr
		case <-ticker.C:
			planLog.Info(fmt.Sprintf("%s - RUNNING (%.0fs elapsed)", label, time.Since(stepStartedAt).Seconds()))
		case <-ctx.Done():
			<-done
			return outcome, execErr
		}
	}
}

// StepExecutionOutcome is the raw result of dispatching one step, before
// on_fail policy is applied.
type StepExecutionOutcome struct {
	ExitCode    int
	Output      string
	SessionID   string
	FailureKind FailureKind // zero value on success
}

// ExecuteBashStep runs the step's fenced bash script (or its whole prompt
// if unfenced) in project dir, with vars layered into the environment.
func ExecuteBashStep(ctx context.Context, label, prompt string, vars map[string]string, projectDir string) (StepExecutionOutcome, error) {
	script, ok := ExtractBashCodeBlock(prompt)
	if !ok {
		script = prompt
	}
	planLog.Info(fmt.Sprintf("%s - Executing bash: %s", label, Truncate(script, 80)))

	for key := range vars {
		if err := ValidateVariableName(key); err != nil {
			return StepExecutionOutcome{}, err
		}
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	cmd.Dir = projectDir
	cmd.Env = os.Environ()
	for k, v := range vars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return StepExecutionOutcome{}, csaerr.Wrap(csaerr.IoError, "failed to spawn bash", err)
		}
	}
	return StepExecutionOutcome{ExitCode: exitCode, Output: stdout.String()}, nil
}
