package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/orchestrator"
	"github.com/csa-dev/csa/internal/session"
)

var gcMaxSeedSessions int
var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Evict excess seed sessions and stale ACP transcripts",
	RunE:  runGc,
}

func init() {
	gcCmd.Flags().IntVar(&gcMaxSeedSessions, "max-seed-sessions", 3, "keep at most this many warm seed sessions per tool")
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report what transcript cleanup would remove without deleting anything")
	rootCmd.AddCommand(gcCmd)
}

func runGc(cmd *cobra.Command, args []string) error {
	store, _, err := openProjectStore("")
	if err != nil {
		return err
	}
	cfg, err := session.LoadUserConfig(configHome())
	if err != nil {
		return err
	}

	tools := make([]string, 0, len(cfg.Tools))
	for t := range cfg.Tools {
		tools = append(tools, t)
	}
	sort.Strings(tools)

	retiredByTool := make(map[string][]string)
	for _, tool := range tools {
		retired, err := orchestrator.EvictExcessSeeds(store, tool, gcMaxSeedSessions)
		if err != nil {
			return err
		}
		if len(retired) > 0 {
			retiredByTool[tool] = retired
		}
	}

	transcriptStats, err := session.CleanupTranscripts(store, cfg.Gc, gcDryRun)
	if err != nil {
		return err
	}

	if jsonMode() {
		return outputJSON(map[string]interface{}{
			"retired_seed_sessions": retiredByTool,
			"transcripts_removed":   transcriptStats.FilesRemoved,
			"bytes_reclaimed":       transcriptStats.BytesReclaimed,
			"dry_run":               gcDryRun,
		})
	}
	total := 0
	for tool, ids := range retiredByTool {
		cmd.Printf("%s: retired %d seed session(s)\n", tool, len(ids))
		total += len(ids)
	}
	if total == 0 {
		cmd.Println("no seed sessions to collect")
	}
	verb := "removed"
	if gcDryRun {
		verb = "would remove"
	}
	cmd.Printf("transcripts: %s %d file(s), %d byte(s) reclaimed\n", verb, transcriptStats.FilesRemoved, transcriptStats.BytesReclaimed)
	return nil
}
