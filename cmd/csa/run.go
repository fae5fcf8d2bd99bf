package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/orchestrator"
	"github.com/csa-dev/csa/internal/resource"
	"github.com/csa-dev/csa/internal/session"
	"github.com/csa-dev/csa/internal/transport"
)

// receivedSignalState lets the signal-handling goroutine and the pipeline
// (running on a different goroutine) agree on which signal, if any,
// triggered ctx's cancellation.
type receivedSignalState struct {
	mu  sync.Mutex
	sig os.Signal
}

func (s *receivedSignalState) set(sig os.Signal) {
	s.mu.Lock()
	s.sig = sig
	s.mu.Unlock()
}

func (s *receivedSignalState) reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.sig {
	case syscall.SIGINT:
		return "sigint"
	case syscall.SIGTERM:
		return "sigterm"
	default:
		return ""
	}
}

var (
	runTool        string
	runSession     string
	runLast        bool
	runDescription string
	runParent      string
	runFork        string
	runEphemeral   bool
	runCd          string
	runModelSpec   string
	runModel       string
	runThinking    string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Run a prompt against a managed tool subprocess",
	Long:  "Dispatches a prompt to the selected tool through the pipeline: resource admission, slot acquisition, sandbox preparation, process transport, and result persistence.",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTool, "tool", "", "tool to run: codex, claude-code, gemini-cli, opencode")
	runCmd.Flags().StringVar(&runSession, "session", "", "resume this session (ID prefix)")
	runCmd.Flags().BoolVar(&runLast, "last", false, "resume the most recently accessed seed-eligible session for --tool (Available, seed candidate, not a fork, matching git HEAD); starts a new session when none qualifies")
	runCmd.Flags().StringVar(&runDescription, "description", "", "human-readable description stored with the session")
	runCmd.Flags().StringVar(&runParent, "parent", "", "parent session ID (for sub-agent spawns)")
	runCmd.Flags().MarkHidden("parent")
	runCmd.Flags().StringVar(&runFork, "fork", "", "soft-fork from this parent session (ID prefix): injects a context summary for tools without native resume")
	runCmd.Flags().BoolVar(&runEphemeral, "ephemeral", false, "discard the session after this run instead of persisting it as a seed candidate")
	runCmd.Flags().StringVar(&runCd, "cd", "", "run against this project directory instead of the current one")
	runCmd.Flags().StringVar(&runModelSpec, "model-spec", "", "tool/provider/model/thinking_budget, e.g. opencode/google/gemini-2.5-pro/high")
	runCmd.Flags().StringVar(&runModel, "model", "", "model name override")
	runCmd.Flags().StringVar(&runThinking, "thinking", "", "reasoning effort: low|medium|high|xhigh")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	tool := runTool
	model := runModel
	thinking := runThinking
	if runModelSpec != "" {
		spec, err := orchestrator.ParseModelSpec(runModelSpec)
		if err != nil {
			return err
		}
		tool = spec.Tool
		model = spec.Model
		thinking = spec.ThinkingBudget.Tier
	}
	if tool == "" {
		return &exitCodeError{code: 1, err: errf("--tool or --model-spec is required")}
	}
	if runFork != "" && (runSession != "" || runLast) {
		return &exitCodeError{code: 1, err: errf("--fork cannot be combined with --session or --last: a fork always starts a new session")}
	}

	root, err := projectRoot(runCd)
	if err != nil {
		return err
	}
	projectKey, err := session.ProjectKey(root)
	if err != nil {
		return err
	}

	cfg, err := session.LoadUserConfig(configHome())
	if err != nil {
		return err
	}

	store := session.Open(storeRoot(), projectKey)

	var existing *session.MetaSessionState
	switch {
	case runSession != "":
		existing, _, err = store.ResolveResume(runSession, tool)
		if err != nil {
			return err
		}
	case runLast:
		candidate, err := orchestrator.FindSeedSession(store, orchestrator.SeedOptions{
			Tool:           tool,
			CurrentGitHead: session.GitHeadAtCreation(root),
		})
		if err != nil {
			return err
		}
		if candidate != nil {
			existing, err = store.LoadState(candidate.SessionID)
			if err != nil {
				return err
			}
		}
	}

	prompt := strings.Join(args, " ")
	if prompt == "" {
		stdin, err := readAllStdinIfPiped()
		if err != nil {
			return err
		}
		prompt = stdin
	}

	providerSessionID := ""
	if existing != nil {
		if ts, ok := existing.Tools[tool]; ok {
			providerSessionID = ts.ProviderSessionID
		}
	}

	genealogy := session.Genealogy{}
	if runParent != "" {
		if parent, err := store.LoadState(runParent); err == nil {
			genealogy = session.Genealogy{ParentSessionID: runParent, Depth: parent.Genealogy.Depth + 1}
		} else {
			genealogy = session.Genealogy{ParentSessionID: runParent, Depth: 1}
		}
	}

	if runFork != "" {
		parentID, err := store.ResolvePrefix(runFork)
		if err != nil {
			return err
		}
		parent, err := store.LoadState(parentID)
		if err != nil {
			return err
		}
		genealogy = session.Genealogy{ForkOfSessionID: parentID, Depth: parent.Genealogy.Depth + 1}

		if orchestrator.NeedsNativeFork(tool) {
			if ts, ok := parent.Tools[tool]; ok && providerSessionID == "" {
				providerSessionID = ts.ProviderSessionID
			}
		} else {
			forkCtx, err := session.BuildSoftForkContext(store, parentID, transport.NewRedactor(transport.RawRedactionPatterns{}))
			if err != nil {
				return err
			}
			prompt = forkCtx.ContextSummary + "\n\n" + prompt
		}
	}

	toolDef, ok := session.GetToolDef(cfg, tool)
	if !ok {
		return &exitCodeError{code: 1, err: errf("unknown tool %q", tool)}
	}
	argv := toolDef.Argv(prompt, providerSessionID)
	if model != "" {
		argv = append(argv, "--model", model)
	}
	if thinking != "" {
		argv = append(argv, "--thinking", thinking)
	}

	statsPath := resource.StatsPath(store.ProjectDir())
	guard, err := resource.NewGuard(resource.Limits{
		MinFreeMemoryMB:   cfg.Resource.MinFreeMemoryMB,
		MinFreeSwapMB:     cfg.Resource.MinFreeSwapMB,
		InitialEstimates:  cfg.Resource.InitialEstimates,
		AdmissionInterval: time.Duration(cfg.Resource.AdmissionIntervalMS) * time.Millisecond,
	}, statsPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sigState := &receivedSignalState{}
	go func() {
		select {
		case s := <-sigCh:
			sigState.set(s)
			cancel()
		case <-ctx.Done():
		}
	}()

	idleTimeout := 10 * time.Minute
	if secs := os.Getenv("CSA_TOOL_HEARTBEAT_SECS"); secs != "" {
		if d, err := time.ParseDuration(secs + "s"); err == nil {
			idleTimeout = d * 6
		}
	}

	req := orchestrator.RunRequest{
		Tool:             tool,
		ProjectPath:      root,
		Argv:             argv,
		RuntimeDir:       runtimeDir(),
		ExistingSession:  existing,
		MaxConcurrent:    session.GetMaxConcurrent(cfg, tool),
		SandboxRequired:  cfg.Sandbox.Required,
		MemoryMaxMB:      cfg.Sandbox.MemoryMaxMB,
		PidsMax:          cfg.Sandbox.PidsMax,
		IdleTimeout:      idleTimeout,
		TerminationGrace: time.Duration(cfg.Termination.GracePeriodSeconds) * time.Second,
		Redactor:         transport.NewRedactor(transport.RawRedactionPatterns{}),
		Genealogy:        genealogy,
		SignalReason:     sigState.reason,
	}

	outcome, err := orchestrator.Run(ctx, store, guard, req)
	if err != nil {
		switch sigState.reason() {
		case "sigint":
			return &exitCodeError{code: 130, err: err}
		case "sigterm":
			return &exitCodeError{code: 143, err: err}
		}
		return err
	}

	if runEphemeral {
		_ = store.Delete(outcome.State.ID)
	}

	if jsonMode() {
		return outputJSON(map[string]interface{}{
			"session_id":  outcome.State.ID,
			"tool":        tool,
			"exit_code":   outcome.Result.ExitCode,
			"summary":     outcome.Result.Summary,
			"sandbox":     outcome.SandboxMode,
			"provider_id": outcome.ProviderSessionID,
		})
	}

	cmd.Println(outcome.Result.Summary)
	cmd.Printf("session: %s  tool: %s  exit: %d  sandbox: %s\n",
		outcome.State.ID, tool, outcome.Result.ExitCode, outcome.SandboxMode)
	if outcome.Result.ExitCode != 0 {
		return &exitCodeError{code: outcome.Result.ExitCode, err: errf("tool exited %d", outcome.Result.ExitCode)}
	}
	return nil
}

func readAllStdinIfPiped() (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return "", nil
	}
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return "", nil
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return string(buf), nil
}
