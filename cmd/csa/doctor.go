package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/lockstore"
	"github.com/csa-dev/csa/internal/platform"
	"github.com/csa-dev/csa/internal/sandbox"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the host environment csa is running on",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorReport struct {
	Platform          string   `json:"platform"`
	SandboxCapability string   `json:"sandbox_capability"`
	SupportsUnixSocks bool     `json:"supports_unix_sockets"`
	SupportsCgroupV2  bool     `json:"supports_cgroup_v2"`
	LockstoreIssues   []string `json:"lockstore_issues,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	root, err := projectRoot("")
	if err != nil {
		return err
	}

	report := doctorReport{
		Platform:          platform.Detect().String(),
		SandboxCapability: sandbox.Detect().String(),
		SupportsUnixSocks: platform.SupportsUnixSockets(),
		SupportsCgroupV2:  platform.SupportsCgroupV2(),
	}

	if results, err := lockstore.CheckSymlinks(root, lockstore.DefaultCheckDirs, false); err == nil {
		for _, r := range results {
			for _, issue := range r.Issues {
				report.LockstoreIssues = append(report.LockstoreIssues, fmt.Sprintf("%s: %s", r.Dir, issue.String()))
			}
		}
	}

	if jsonMode() {
		return outputJSON(report)
	}
	cmd.Println("platform:         ", report.Platform)
	cmd.Println("sandbox:          ", report.SandboxCapability)
	cmd.Println("unix sockets:     ", report.SupportsUnixSocks)
	cmd.Println("cgroup v2:        ", report.SupportsCgroupV2)
	if len(report.LockstoreIssues) == 0 {
		cmd.Println("lockstore:         ok")
	}
	for _, issue := range report.LockstoreIssues {
		cmd.Println("lockstore issue:  ", issue)
	}
	return nil
}
