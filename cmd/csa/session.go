package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/liveness"
	"github.com/csa-dev/csa/internal/resource"
	"github.com/csa-dev/csa/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage sessions",
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionCompressCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	sessionCmd.AddCommand(sessionCleanCmd)
	sessionCmd.AddCommand(sessionLogsCmd)
	sessionCmd.AddCommand(sessionLogCmd)
	sessionCmd.AddCommand(sessionIsAliveCmd)
	sessionCmd.AddCommand(sessionResultCmd)
	sessionCmd.AddCommand(sessionArtifactsCmd)
	sessionCmd.AddCommand(sessionCheckpointCmd)
	sessionCmd.AddCommand(sessionCheckpointsCmd)
	sessionCmd.AddCommand(sessionMeasureCmd)

	sessionCleanCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete Retired sessions last accessed before this long ago")
}

func openProjectStore(cd string) (*session.Store, string, error) {
	root, err := projectRoot(cd)
	if err != nil {
		return nil, "", err
	}
	key, err := session.ProjectKey(root)
	if err != nil {
		return nil, "", err
	}
	return session.Open(storeRoot(), key), root, nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions for the current project",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		ids, err := store.List()
		if err != nil {
			return err
		}

		type row struct {
			ID          string `json:"id"`
			Phase       string `json:"phase"`
			Tools       string `json:"tools"`
			LastAccess  string `json:"last_accessed_at"`
			Description string `json:"description"`
		}
		rows := make([]row, 0, len(ids))
		for _, id := range ids {
			state, err := store.LoadState(id)
			if err != nil {
				continue
			}
			tools := make([]string, 0, len(state.Tools))
			for t := range state.Tools {
				tools = append(tools, t)
			}
			sort.Strings(tools)
			rows = append(rows, row{
				ID:          state.ID,
				Phase:       string(state.Phase),
				Tools:       fmt.Sprint(tools),
				LastAccess:  state.LastAccessedAt.Format(time.RFC3339),
				Description: state.Description,
			})
		}

		if jsonMode() {
			return outputJSON(rows)
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tPHASE\tTOOLS\tLAST ACCESSED\tDESCRIPTION")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", truncate(r.ID, 12), r.Phase, r.Tools, r.LastAccess, r.Description)
		}
		return w.Flush()
	},
}

var sessionCompressCmd = &cobra.Command{
	Use:   "compress <session>",
	Short: "Mark a session compacted and Available (runs no tool command)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		id, err := store.ResolvePrefix(args[0])
		if err != nil {
			return err
		}
		state, err := store.LoadState(id)
		if err != nil {
			return err
		}
		newPhase, ok := session.Transition(state.Phase, session.EventCompressed)
		if !ok {
			return errf("session %s cannot compress from phase %s", id, state.Phase)
		}
		state.Phase = newPhase
		state.ContextStatus.IsCompacted = true
		state.ContextStatus.LastCompactedAt = time.Now().UTC()
		if err := store.SaveState(state); err != nil {
			return err
		}
		cmd.Println("compressed", id)
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		id, err := store.ResolvePrefix(args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(id); err != nil {
			return err
		}
		cmd.Println("deleted", id)
		return nil
	},
}

var sessionCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete Retired sessions older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, err := cmd.Flags().GetDuration("older-than")
		if err != nil {
			return err
		}
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		ids, err := store.List()
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-olderThan)
		var removed []string
		for _, id := range ids {
			state, err := store.LoadState(id)
			if err != nil {
				continue
			}
			if state.Phase != session.PhaseRetired || state.LastAccessedAt.After(cutoff) {
				continue
			}
			if err := store.Delete(id); err == nil {
				removed = append(removed, id)
			}
		}
		if jsonMode() {
			return outputJSON(map[string]interface{}{"removed": removed})
		}
		cmd.Printf("removed %d session(s)\n", len(removed))
		return nil
	},
}

var sessionLogsCmd = &cobra.Command{
	Use:   "logs <session>",
	Short: "List log files recorded for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		id, err := store.ResolvePrefix(args[0])
		if err != nil {
			return err
		}
		logsDir := filepath.Join(store.SessionDir(id), "logs")
		entries, err := os.ReadDir(logsDir)
		if err != nil {
			if os.IsNotExist(err) {
				entries = nil
			} else {
				return err
			}
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		if jsonMode() {
			return outputJSON(names)
		}
		for _, n := range names {
			cmd.Println(n)
		}
		return nil
	},
}

var sessionLogCmd = &cobra.Command{
	Use:   "log <session> <name>",
	Short: "Print one of a session's log files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		id, err := store.ResolvePrefix(args[0])
		if err != nil {
			return err
		}
		path := filepath.Join(store.SessionDir(id), "logs", filepath.Base(args[1]))
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var sessionIsAliveCmd = &cobra.Command{
	Use:   "is-alive <session>",
	Short: "Report whether a session's tool process still looks alive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		id, err := store.ResolvePrefix(args[0])
		if err != nil {
			return err
		}
		alive := liveness.IsAlive(store.SessionDir(id))
		if jsonMode() {
			return outputJSON(map[string]bool{"alive": alive})
		}
		cmd.Println(alive)
		return nil
	},
}

var sessionResultCmd = &cobra.Command{
	Use:   "result <session>",
	Short: "Print a session's last recorded result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		id, err := store.ResolvePrefix(args[0])
		if err != nil {
			return err
		}
		result, err := store.LoadResult(id)
		if err != nil {
			return err
		}
		if jsonMode() {
			return outputJSON(result)
		}
		cmd.Printf("status: %s  exit: %d\n%s\n", result.Status, result.ExitCode, result.Summary)
		return nil
	},
}

var sessionArtifactsCmd = &cobra.Command{
	Use:   "artifacts <session>",
	Short: "List artifacts recorded in a session's last result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		id, err := store.ResolvePrefix(args[0])
		if err != nil {
			return err
		}
		result, err := store.LoadResult(id)
		if err != nil {
			return err
		}
		if jsonMode() {
			return outputJSON(result.Artifacts)
		}
		w := newTable()
		fmt.Fprintln(w, "PATH\tLINES\tBYTES")
		for _, a := range result.Artifacts {
			fmt.Fprintf(w, "%s\t%d\t%s\n", a.Path, a.LineCount, humanize.Bytes(uint64(a.ByteCount)))
		}
		return w.Flush()
	},
}

// checkpointsDir is where a session's checkpoints live: point-in-time
// snapshots of its MetaSessionState, kept alongside the live state so a
// session can be inspected or diffed against an earlier point without
// mutating state.toml.
func checkpointsDir(store *session.Store, id string) string {
	return filepath.Join(store.SessionDir(id), "checkpoints")
}

var sessionCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <session>",
	Short: "Snapshot a session's current state as a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		id, err := store.ResolvePrefix(args[0])
		if err != nil {
			return err
		}
		state, err := store.LoadState(id)
		if err != nil {
			return err
		}

		dir := checkpointsDir(store, id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		name := time.Now().UTC().Format("20060102T150405.000Z") + ".toml"
		path := filepath.Join(dir, name)

		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(state); err != nil {
			return err
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
			return err
		}
		cmd.Println(name)
		return nil
	},
}

var sessionCheckpointsCmd = &cobra.Command{
	Use:   "checkpoints <session>",
	Short: "List a session's checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		id, err := store.ResolvePrefix(args[0])
		if err != nil {
			return err
		}
		entries, err := os.ReadDir(checkpointsDir(store, id))
		if err != nil {
			if os.IsNotExist(err) {
				entries = nil
			} else {
				return err
			}
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		if jsonMode() {
			return outputJSON(names)
		}
		for _, n := range names {
			cmd.Println(n)
		}
		return nil
	},
}

var sessionMeasureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Report recorded peak-RSS history per tool for this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openProjectStore("")
		if err != nil {
			return err
		}
		stats, err := resource.LoadStats(resource.StatsPath(store.ProjectDir()))
		if err != nil {
			return err
		}

		type row struct {
			Tool    string `json:"tool"`
			Samples int    `json:"samples"`
			P95MB   uint64 `json:"p95_mb"`
		}
		tools := make([]string, 0, len(stats.History))
		for t := range stats.History {
			tools = append(tools, t)
		}
		sort.Strings(tools)

		rows := make([]row, 0, len(tools))
		for _, t := range tools {
			p95, _ := stats.P95Estimate(t)
			rows = append(rows, row{Tool: t, Samples: len(stats.History[t]), P95MB: p95})
		}

		if jsonMode() {
			return outputJSON(rows)
		}
		w := newTable()
		fmt.Fprintln(w, "TOOL\tSAMPLES\tP95 RSS")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%s\n", r.Tool, r.Samples, humanize.Bytes(r.P95MB*1024*1024))
		}
		return w.Flush()
	},
}
