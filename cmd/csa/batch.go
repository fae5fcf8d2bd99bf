package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/batch"
	"github.com/csa-dev/csa/internal/orchestrator"
	"github.com/csa-dev/csa/internal/session"
	"github.com/csa-dev/csa/internal/transport"
)

var batchFile string
var batchMaxConcurrent int

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run an independent-tasks batch file",
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "batch.toml", "batch file to run")
	batchCmd.Flags().IntVar(&batchMaxConcurrent, "max-concurrent", 4, "max tasks run concurrently per wave")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(batchFile)
	if err != nil {
		return err
	}
	config, err := batch.ParseBatchFile(data)
	if err != nil {
		return err
	}
	if err := batch.ValidateTasks(config.Tasks); err != nil {
		return err
	}

	deps, err := openPipelineDeps("")
	if err != nil {
		return err
	}

	results := make(map[string]batch.StepExecutionOutcome)
	run := func(ctx context.Context, task *batch.BatchTask) error {
		prompt := batch.SubstituteVars(task.Prompt, nil)
		execute := func(projectPath string) error {
			req := orchestrator.RunRequest{
				Tool:             task.Tool,
				ProjectPath:      projectPath,
				Argv:             deps.argvBuilder(task.Tool, prompt),
				RuntimeDir:       runtimeDir(),
				MaxConcurrent:    session.GetMaxConcurrent(deps.cfg, task.Tool),
				SandboxRequired:  deps.cfg.Sandbox.Required,
				MemoryMaxMB:      deps.cfg.Sandbox.MemoryMaxMB,
				PidsMax:          deps.cfg.Sandbox.PidsMax,
				TerminationGrace: time.Duration(deps.cfg.Termination.GracePeriodSeconds) * time.Second,
				Redactor:         transport.NewRedactor(transport.RawRedactionPatterns{}),
			}
			outcome, err := orchestrator.Run(ctx, deps.store, deps.guard, req)
			if err != nil {
				return err
			}
			results[task.Name] = batch.StepExecutionOutcome{
				ExitCode:  outcome.Result.ExitCode,
				Output:    outcome.Result.Summary,
				SessionID: outcome.State.ID,
			}
			if outcome.Result.ExitCode != 0 {
				return errf("task %s exited %d", task.Name, outcome.Result.ExitCode)
			}
			return nil
		}

		// Parallel tasks in the same wave would otherwise share deps.root's
		// working tree; give each one its own worktree and merge its branch
		// back once it succeeds.
		if task.Mode == batch.TaskModeParallel {
			return batch.WorktreeTask(deps.root, task.Name, session.NewSessionID()[:8], execute)
		}
		return execute(deps.root)
	}

	err = batch.RunBatch(cmd.Context(), config.Tasks, batchMaxConcurrent, run)
	if jsonMode() {
		jsonErr := outputJSON(map[string]interface{}{"results": results, "error": errString(err)})
		if jsonErr != nil {
			return jsonErr
		}
		if err != nil {
			return &exitCodeError{code: 1, err: err}
		}
		return nil
	}
	for name, outcome := range results {
		cmd.Printf("%s: exit=%d session=%s\n", name, outcome.ExitCode, outcome.SessionID)
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
