package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/csa-dev/csa/internal/lockstore"
)

var skillInstallCommit string
var skillInstallVersion string

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Manage skill packages pinned in weave.lock",
}

var skillInstallCmd = &cobra.Command{
	Use:   "install <name> <repo-url>",
	Short: "Fetch a skill package at a pinned commit and record it in weave.lock",
	Args:  cobra.ExactArgs(2),
	RunE:  runSkillInstall,
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the skill packages pinned in weave.lock",
	RunE:  runSkillList,
}

func init() {
	rootCmd.AddCommand(skillCmd)
	skillCmd.AddCommand(skillInstallCmd)
	skillCmd.AddCommand(skillListCmd)

	skillInstallCmd.Flags().StringVar(&skillInstallCommit, "commit", "", "commit to pin (required)")
	skillInstallCmd.Flags().StringVar(&skillInstallVersion, "version", "", "human-readable version label")
	skillInstallCmd.MarkFlagRequired("commit")
}

func runSkillInstall(cmd *cobra.Command, args []string) error {
	name, repo := args[0], args[1]
	root, err := projectRoot("")
	if err != nil {
		return err
	}

	casPath, err := lockstore.EnsureCached(cacheRoot(), repo)
	if err != nil {
		return err
	}
	dest, err := lockstore.PackageDir(storeRoot(), name, skillInstallCommit)
	if err != nil {
		return err
	}
	if !lockstore.IsCheckoutValid(dest) {
		if err := lockstore.CheckoutTo(casPath, skillInstallCommit, dest); err != nil {
			return err
		}
	}

	lf, err := lockstore.LoadProjectLockfile(root)
	if err != nil {
		return err
	}
	entry := lockstore.LockedPackage{
		Name: name, Repo: repo, Commit: skillInstallCommit,
		Version: skillInstallVersion, SourceKind: lockstore.SourceGit,
	}
	replaced := false
	for i, pkg := range lf.Package {
		if pkg.Name == name {
			lf.Package[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lf.Package = append(lf.Package, entry)
	}
	if err := lockstore.SaveLockfile(lockstore.LockfilePath(root), lf); err != nil {
		return err
	}

	if jsonMode() {
		return outputJSON(entry)
	}
	cmd.Printf("installed %s@%s into %s\n", name, skillInstallCommit, dest)
	return nil
}

func runSkillList(cmd *cobra.Command, args []string) error {
	root, err := projectRoot("")
	if err != nil {
		return err
	}
	lf, err := lockstore.LoadProjectLockfile(root)
	if err != nil {
		return err
	}
	if jsonMode() {
		return outputJSON(lf.Package)
	}
	w := newTable()
	fmt.Fprintln(w, "NAME\tREPO\tCOMMIT\tVERSION")
	for _, pkg := range lf.Package {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", pkg.Name, pkg.Repo, truncate(pkg.Commit, 12), pkg.Version)
	}
	return w.Flush()
}
