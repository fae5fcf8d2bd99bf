package main

import (
	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/lockstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate a project from .weave/lock.toml to weave.lock",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	root, err := projectRoot("")
	if err != nil {
		return err
	}

	result, err := lockstore.Migrate(root, cacheRoot(), storeRoot())
	if err != nil {
		return err
	}

	if jsonMode() {
		return outputJSON(result)
	}

	switch result.Kind {
	case lockstore.AlreadyMigrated:
		cmd.Println("weave.lock already exists, nothing to do")
	case lockstore.NothingToMigrate:
		cmd.Println("no legacy lockfile or orphaned directories found")
	case lockstore.OrphanedDirsFound:
		cmd.Println("no legacy lockfile, but found orphaned directories:")
		for _, dir := range result.LegacyDirs {
			cmd.Printf("  %s — %s\n    %s\n", dir.Path, dir.Description, dir.CleanupHint)
		}
	case lockstore.Migrated:
		cmd.Printf("migrated %d packages (%d checked out, %d local skipped)\n",
			result.Count, result.Checkouts, result.LocalSkipped)
	}
	return nil
}
