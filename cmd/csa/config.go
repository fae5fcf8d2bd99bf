package main

import (
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/session"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, edit, or validate config.toml",
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configValidateCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := session.LoadUserConfig(configHome())
		if err != nil {
			return err
		}
		if jsonMode() {
			return outputJSON(cfg)
		}
		cmd.Printf("config: %s\n", session.UserConfigPath(configHome()))
		cmd.Printf("sandbox: required=%v memory_max_mb=%d pids_max=%d\n",
			cfg.Sandbox.Required, cfg.Sandbox.MemoryMaxMB, cfg.Sandbox.PidsMax)
		cmd.Printf("resource: min_free_memory_mb=%d min_free_swap_mb=%d\n",
			cfg.Resource.MinFreeMemoryMB, cfg.Resource.MinFreeSwapMB)
		for name, max := range cfg.Slots.MaxConcurrent {
			cmd.Printf("slot: %s max_concurrent=%d\n", name, max)
		}
		for name, def := range cfg.Tools {
			cmd.Printf("tool: %s command=%s\n", name, def.Command)
		}
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config.toml in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := session.UserConfigPath(configHome())
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := session.SaveUserConfig(configHome(), session.DefaultUserConfig()); err != nil {
				return err
			}
		}
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		ed := exec.CommandContext(cmd.Context(), editor, path)
		ed.Stdin = os.Stdin
		ed.Stdout = os.Stdout
		ed.Stderr = os.Stderr
		if err := ed.Run(); err != nil {
			return err
		}
		session.ClearUserConfigCache()
		_, err := session.LoadUserConfig(configHome())
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config.toml without applying it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := session.ReloadUserConfig(configHome())
		if err != nil {
			return err
		}
		if err := session.ValidateUserConfig(cfg); err != nil {
			return &exitCodeError{code: 1, err: err}
		}
		cmd.Println("config is valid")
		return nil
	},
}
