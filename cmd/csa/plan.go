package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/batch"
	"github.com/csa-dev/csa/internal/transport"
)

var planFile string
var planForwardedSession string
var planVars []string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Run dependency-ordered plan workflows",
}

var planRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a plan workflow file",
	RunE:  runPlanRun,
}

var planVisualizeFile string
var planVisualizeFormat string

var planVisualizeCmd = &cobra.Command{
	Use:   "visualize",
	Short: "Render a plan workflow's step graph",
	RunE:  runPlanVisualize,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planRunCmd)
	planCmd.AddCommand(planVisualizeCmd)
	planRunCmd.Flags().StringVarP(&planFile, "file", "f", "plan.toml", "plan file to run")
	planRunCmd.Flags().StringVar(&planForwardedSession, "session", "", "forward this session to the plan's first tool step")
	planRunCmd.Flags().StringArrayVar(&planVars, "var", nil, "name=value plan variable, repeatable")
	planVisualizeCmd.Flags().StringVarP(&planVisualizeFile, "file", "f", "plan.toml", "plan file to visualize")
	planVisualizeCmd.Flags().StringVar(&planVisualizeFormat, "format", "ascii", "output format: ascii|dot")
}

func runPlanVisualize(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(planVisualizeFile)
	if err != nil {
		return err
	}
	plan, err := batch.ParsePlanFile(data)
	if err != nil {
		return err
	}

	switch planVisualizeFormat {
	case "ascii":
		width := defaultTerminalWidth()
		cmd.Println(batch.RenderASCII(plan, width))
	case "dot":
		cmd.Print(batch.RenderDot(plan))
	default:
		return &exitCodeError{code: 1, err: errf("unknown format %q: want ascii or dot", planVisualizeFormat)}
	}
	return nil
}

func defaultTerminalWidth() int {
	if raw := os.Getenv("COLUMNS"); raw != "" {
		if w, err := strconv.Atoi(raw); err == nil {
			return w
		}
	}
	return 100
}

func runPlanRun(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(planFile)
	if err != nil {
		return err
	}
	plan, err := batch.ParsePlanFile(data)
	if err != nil {
		return err
	}
	vars, err := batch.ParseVariables(planVars, plan)
	if err != nil {
		return err
	}

	deps, err := openPipelineDeps("")
	if err != nil {
		return err
	}

	dispatch := batch.BuildDispatch(batch.DispatchOptions{
		Store:            deps.store,
		Guard:            deps.guard,
		ProjectPath:      deps.root,
		RuntimeDir:       runtimeDir(),
		MaxConcurrent:    4,
		SandboxRequired:  deps.cfg.Sandbox.Required,
		MemoryMaxMB:      deps.cfg.Sandbox.MemoryMaxMB,
		PidsMax:          deps.cfg.Sandbox.PidsMax,
		TerminationGrace: time.Duration(deps.cfg.Termination.GracePeriodSeconds) * time.Second,
		Redactor:         transport.NewRedactor(transport.RawRedactionPatterns{}),
		ForwardedSession: planForwardedSession,
		ArgvBuilder:      deps.argvBuilder,
	})

	results, err := batch.RunPlan(cmd.Context(), plan, vars, deps.root, dispatch)
	if jsonMode() {
		if jsonErr := outputJSON(map[string]interface{}{"results": results, "error": errString(err)}); jsonErr != nil {
			return jsonErr
		}
		if err != nil {
			return &exitCodeError{code: 1, err: err}
		}
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "STEP\tTITLE\tEXIT\tSESSION")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", r.StepID, r.Title, r.ExitCode, r.SessionID)
	}
	if flushErr := w.Flush(); flushErr != nil {
		return flushErr
	}
	return err
}
