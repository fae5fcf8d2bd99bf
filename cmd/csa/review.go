package main

import (
	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/audit"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Rescan the project and report files changed since the last audit manifest",
	RunE:  runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	root, err := projectRoot("")
	if err != nil {
		return err
	}
	manifest, diff, err := audit.Rescan(root, nil)
	if err != nil {
		return err
	}
	if err := audit.Save(audit.ManifestPath(root), manifest); err != nil {
		return err
	}

	if jsonMode() {
		return outputJSON(diff)
	}
	for _, path := range diff.New {
		cmd.Println("+", path)
	}
	for _, path := range diff.Modified {
		cmd.Println("~", path)
	}
	for _, path := range diff.Deleted {
		cmd.Println("-", path)
	}
	if len(diff.New)+len(diff.Modified)+len(diff.Deleted) == 0 {
		cmd.Println("no changes since last review")
	}
	return nil
}
