package main

import (
	"github.com/spf13/cobra"
)

// selfUpdateCmd exists only to complete the CLI surface: csa ships no
// update channel of its own, so there's nothing wired behind it.
var selfUpdateCmd = &cobra.Command{
	Use:   "self-update",
	Short: "Not implemented; update csa through your package manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println("self-update is not implemented; reinstall csa through whatever channel you installed it from")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(selfUpdateCmd)
}
