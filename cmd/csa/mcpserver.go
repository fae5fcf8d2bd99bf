package main

import (
	"bufio"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/mcphub"
)

var mcpServerToolchainHash string

// mcpServerCmd is what a tool's own MCP client config points at: a thin
// stdio client that relays line-delimited JSON-RPC between the tool's
// stdin/stdout and the project's shared Hub socket, so every subprocess
// under a project talks to one pool of backend MCP servers instead of
// starting its own.
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Bridge this process's stdio to the project's MCP proxy hub",
	RunE:  runMCPServer,
}

func init() {
	rootCmd.AddCommand(mcpServerCmd)
	mcpServerCmd.Flags().StringVar(&mcpServerToolchainHash, "toolchain-hash", "default", "must match the hash the hub was started with")
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	root, err := projectRoot("")
	if err != nil {
		return err
	}
	key := mcphub.HubKey(root, mcpServerToolchainHash)
	conn, err := net.Dial("unix", mcphub.SocketPath(key))
	if err != nil {
		return errf("connecting to mcp hub (is it running? try `csa mcp-hub serve`): %w", err)
	}
	defer conn.Close()

	done := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn, os.Stdin)
		done <- err
	}()
	go func() {
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
		w := bufio.NewWriter(os.Stdout)
		for scanner.Scan() {
			w.Write(scanner.Bytes())
			w.WriteByte('\n')
			w.Flush()
		}
		done <- scanner.Err()
	}()
	return <-done
}
