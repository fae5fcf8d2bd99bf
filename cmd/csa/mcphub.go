package main

import (
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/mcphub"
	"github.com/csa-dev/csa/internal/metrics"
	"github.com/csa-dev/csa/internal/session"
)

var mcpHubToolchainHash string
var mcpHubMetricsAddr string

var mcpHubCmd = &cobra.Command{
	Use:   "mcp-hub",
	Short: "Manage the shared MCP proxy hub for this project",
}

var mcpHubServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub, registering every backend in config.toml",
	RunE:  runMCPHubServe,
}

var mcpHubStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the hub bound to this project's socket",
	RunE:  runMCPHubStop,
}

func init() {
	rootCmd.AddCommand(mcpHubCmd)
	mcpHubCmd.AddCommand(mcpHubServeCmd)
	mcpHubCmd.AddCommand(mcpHubStopCmd)

	mcpHubCmd.PersistentFlags().StringVar(&mcpHubToolchainHash, "toolchain-hash", "default", "identifies the toolchain this hub serves, keyed together with the project root")
	mcpHubServeCmd.Flags().StringVar(&mcpHubMetricsAddr, "metrics-addr", "", "optional address to serve Prometheus metrics on, e.g. :9090")
}

func mcpHubKeyForProject() (string, error) {
	root, err := projectRoot("")
	if err != nil {
		return "", err
	}
	return mcphub.HubKey(root, mcpHubToolchainHash), nil
}

func runMCPHubServe(cmd *cobra.Command, args []string) error {
	key, err := mcpHubKeyForProject()
	if err != nil {
		return err
	}
	cfg, err := session.LoadUserConfig(configHome())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := mcphub.NewHub(ctx, key)
	for _, b := range cfg.MCPBackends {
		spec := mcphub.BackendSpec{
			Name: b.Name, Command: b.Command, Args: b.Args, Env: b.Env,
			URL: b.URL, Insecure: b.Insecure,
			RateLimitPerSec: b.RateLimitPerSec, Burst: b.Burst,
		}
		if err := hub.RegisterBackend(spec); err != nil {
			return err
		}
	}

	if err := hub.Listen(); err != nil {
		return err
	}
	cmd.Println("mcp hub listening on", hub.SocketPath())

	if mcpHubMetricsAddr != "" {
		metrics.Register()
		go func() {
			if err := metrics.Serve(ctx, mcpHubMetricsAddr); err != nil {
				printErrorLine("metrics server: %v", err)
			}
		}()
	}

	<-ctx.Done()
	return hub.Shutdown()
}

func runMCPHubStop(cmd *cobra.Command, args []string) error {
	key, err := mcpHubKeyForProject()
	if err != nil {
		return err
	}
	socketPath := mcphub.SocketPath(key)

	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		cmd.Println("no running hub at", socketPath)
		return nil
	}
	defer conn.Close()

	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","method":"hub/stop","id":"cli-stop"}` + "\n"))
	if err != nil {
		return err
	}
	cmd.Println("sent hub/stop to", socketPath)
	return nil
}
