package main

import (
	"github.com/spf13/cobra"
)

// setupCmd's subcommands are intentionally thin: each tool's own config
// file format is its own concern, not something csa owns. These commands
// print the wiring a user needs, they don't write the target tool's config
// for it.
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Print the configuration needed to point a tool at this project's MCP hub",
}

func setupRunE(tool, hint string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot("")
		if err != nil {
			return err
		}
		key, err := mcpHubKeyForProject()
		if err != nil {
			return err
		}
		info := map[string]string{
			"tool":        tool,
			"project":     root,
			"mcp_command": "csa mcp-server --toolchain-hash " + mcpHubToolchainHash,
			"hub_socket":  key,
			"hint":        hint,
		}
		if jsonMode() {
			return outputJSON(info)
		}
		cmd.Printf("to route %s's MCP traffic through this project's shared hub:\n", tool)
		cmd.Printf("  1. run `csa mcp-hub serve` in this project\n")
		cmd.Printf("  2. point %s at the command `csa mcp-server --toolchain-hash %s`\n", tool, mcpHubToolchainHash)
		cmd.Printf("     (%s)\n", hint)
		return nil
	}
}

func init() {
	rootCmd.AddCommand(setupCmd)

	claudeCmd := &cobra.Command{
		Use:   "claude-code",
		Short: "Print MCP wiring for claude-code",
		RunE:  setupRunE("claude-code", "add it as an MCP server entry in .claude/settings.json's mcpServers map"),
	}
	codexCmd := &cobra.Command{
		Use:   "codex",
		Short: "Print MCP wiring for codex",
		RunE:  setupRunE("codex", "add it under [mcp_servers] in ~/.codex/config.toml"),
	}
	opencodeCmd := &cobra.Command{
		Use:   "opencode",
		Short: "Print MCP wiring for opencode",
		RunE:  setupRunE("opencode", "add it under mcp in opencode's project config"),
	}
	setupCmd.AddCommand(claudeCmd, codexCmd, opencodeCmd)
}
