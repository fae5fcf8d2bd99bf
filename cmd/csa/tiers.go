package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/orchestrator"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Inspect this project's tool-priority tiers",
}

var tiersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tiers and their round-robin position",
	RunE:  runTiersList,
}

func init() {
	rootCmd.AddCommand(tiersCmd)
	tiersCmd.AddCommand(tiersListCmd)
}

func runTiersList(cmd *cobra.Command, args []string) error {
	deps, err := openPipelineDeps("")
	if err != nil {
		return err
	}

	tiers, err := orchestrator.LoadTiers(deps.store.ProjectDir())
	if err != nil {
		return err
	}

	if jsonMode() {
		return outputJSON(tiers)
	}

	if len(tiers) == 0 {
		cmd.Println("no tiers configured (see tiers.toml under the project's store directory)")
		return nil
	}

	w := newTable()
	fmt.Fprintln(w, "TIER\tSPECS")
	for _, tier := range tiers {
		fmt.Fprintf(w, "%s\t%v\n", tier.Name, tier.Specs)
	}
	return w.Flush()
}
