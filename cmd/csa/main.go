// Command csa supervises external AI coding CLI tools (codex, claude-code,
// gemini-cli, opencode) as child processes: session bookkeeping, resource
// admission, concurrency slots, sandboxing, and an MCP proxy hub shared
// across a project's subprocess tree.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
)

var formatFlag string

var rootCmd = &cobra.Command{
	Use:           "csa",
	Short:         "Recursive sub-agent container for AI coding CLIs",
	Long:          "csa supervises codex, claude-code, gemini-cli, and opencode as managed child processes, giving them durable sessions, bounded concurrency, and a shared MCP tool proxy.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// version is overridden at build time via -ldflags.
var version = "dev"

func init() {
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "text", "output format: text|json")
}

func main() {
	logging.Init(logging.Config{
		LogDir: logDir(),
		Level:  os.Getenv("CSA_LOG_LEVEL"),
		Debug:  os.Getenv("CSA_DEBUG") != "",
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error into the process exit codes callers (shell
// scripts, CI) depend on: 0 success, 1 generic failure, 130 SIGINT, 137
// SIGKILL/OOM/idle-kill, 143 SIGTERM.
func exitCodeFor(err error) int {
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	if kind, ok := csaerr.KindOf(err); ok {
		switch kind {
		case csaerr.Timeout:
			return 137
		}
	}
	fmt.Fprintln(os.Stderr, "csa:", err)
	return 1
}

// exitCodeError lets a RunE pin a specific process exit code (e.g. for a
// signal-terminated run) without losing the wrapped error message.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }
