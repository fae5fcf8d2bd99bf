package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/session"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize csa for the current project",
	Long:  "Creates the project's session store directory and, if missing, a default config.toml.",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	store, root, err := openProjectStore("")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(store.SessionsDir(), 0o755); err != nil {
		return err
	}

	path := session.UserConfigPath(configHome())
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := session.SaveUserConfig(configHome(), session.DefaultUserConfig()); err != nil {
			return err
		}
	}

	if jsonMode() {
		return outputJSON(map[string]string{"project_root": root, "store": store.ProjectDir(), "config": path})
	}
	cmd.Println("initialized csa for", root)
	cmd.Println("store:", store.ProjectDir())
	cmd.Println("config:", path)
	return nil
}
