package lockstore

import (
	"os"
	"path/filepath"
)

// LegacyDir is a pre-migration directory detected during Migrate that may
// need manual cleanup.
type LegacyDir struct {
	Path        string
	Description string
	CleanupHint string
}

// MigrateResultKind distinguishes the shapes of MigrateResult.
type MigrateResultKind int

const (
	// AlreadyMigrated: weave.lock already exists, nothing to do.
	AlreadyMigrated MigrateResultKind = iota
	// NothingToMigrate: no legacy lockfile and no orphaned artifacts.
	NothingToMigrate
	// OrphanedDirsFound: no lockfile to migrate, but legacy directories were found.
	OrphanedDirsFound
	// Migrated: legacy lockfile successfully migrated.
	Migrated
)

// MigrateResult is the outcome of a Migrate call.
type MigrateResult struct {
	Kind         MigrateResultKind
	LegacyDirs   []LegacyDir
	Count        int
	Checkouts    int
	LocalSkipped int
}

// Migrate moves a project from the legacy .weave/lock.toml format to the
// current weave.lock format, checking out any git-sourced package that
// isn't already present in the global store.
func Migrate(projectRoot, cacheRoot, storeRoot string) (MigrateResult, error) {
	newPath := LockfilePath(projectRoot)
	if _, err := os.Stat(newPath); err == nil {
		return MigrateResult{Kind: AlreadyMigrated}, nil
	}

	oldPath := LegacyLockfilePath(projectRoot)
	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		legacyDirs := detectLegacyDirs(projectRoot)
		if len(legacyDirs) > 0 {
			return MigrateResult{Kind: OrphanedDirsFound, LegacyDirs: legacyDirs}, nil
		}
		return MigrateResult{Kind: NothingToMigrate}, nil
	}

	lockfile, err := LoadLockfile(oldPath)
	if err != nil {
		return MigrateResult{}, err
	}

	var migratedCount, localSkipped int
	for _, pkg := range lockfile.Package {
		if pkg.SourceKind != SourceGit {
			localSkipped++
			continue
		}
		if pkg.Repo == "" || pkg.Commit == "" {
			continue
		}

		dest, err := PackageDir(storeRoot, pkg.Name, pkg.Commit)
		if err != nil {
			return MigrateResult{}, err
		}
		if IsCheckoutValid(dest) {
			continue
		}

		cas, err := EnsureCached(cacheRoot, pkg.Repo)
		if err != nil {
			return MigrateResult{}, err
		}
		if err := CheckoutTo(cas, pkg.Commit, dest); err != nil {
			return MigrateResult{}, err
		}
		migratedCount++
	}

	if err := SaveLockfile(newPath, lockfile); err != nil {
		return MigrateResult{}, err
	}

	return MigrateResult{
		Kind:         Migrated,
		Count:        len(lockfile.Package),
		Checkouts:    migratedCount,
		LocalSkipped: localSkipped,
	}, nil
}

func detectLegacyDirs(projectRoot string) []LegacyDir {
	var dirs []LegacyDir

	weaveDeps := filepath.Join(projectRoot, ".weave", "deps")
	if isDir(weaveDeps) {
		dirs = append(dirs, LegacyDir{
			Path:        weaveDeps,
			Description: "orphaned .weave/deps/ (no .weave/lock.toml)",
			CleanupHint: "rm -rf .weave/deps/",
		})
	}

	weaveDir := filepath.Join(projectRoot, ".weave")
	if isDir(weaveDir) && isDirEmptyOrOnlyDeps(weaveDir) && len(dirs) > 0 {
		dirs = []LegacyDir{{
			Path:        weaveDir,
			Description: "orphaned .weave/ directory (no lock.toml, only deps/)",
			CleanupHint: "rm -rf .weave/",
		}}
	}

	csaPatterns := filepath.Join(projectRoot, ".csa", "patterns")
	if isDir(csaPatterns) {
		dirs = append(dirs, LegacyDir{
			Path:        csaPatterns,
			Description: "legacy .csa/patterns/ directory (skills now managed via weave.lock)",
			CleanupHint: "rm -rf .csa/patterns/",
		})
	}

	return dirs
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isDirEmptyOrOnlyDeps(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.Name() != "deps" {
			return false
		}
	}
	return true
}
