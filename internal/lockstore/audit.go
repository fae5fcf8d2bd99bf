package lockstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AuditIssueKind distinguishes the shapes of AuditIssue.
type AuditIssueKind int

const (
	IssueMissingFromDeps AuditIssueKind = iota
	IssueMissingFromLockfile
	IssueUnknownRepo
	IssueMissingSkillMd
	IssueCaseMismatchSkillMd
	IssueBrokenSymlink
	IssueMissingCompanionSkill
)

// AuditIssue is a single consistency problem found by Audit or
// CheckSymlinks.
type AuditIssue struct {
	Kind    AuditIssueKind
	Found   string // CaseMismatchSkillMd: the actual on-disk filename
	Path    string // BrokenSymlink: the symlink's path
	Target  string // BrokenSymlink: the link's target
	Pattern string // MissingCompanionSkill: the pattern name
}

func (i AuditIssue) String() string {
	switch i.Kind {
	case IssueMissingFromDeps:
		return "locked but missing from global package store"
	case IssueMissingFromLockfile:
		return "present in deps but not in lockfile"
	case IssueUnknownRepo:
		return "lockfile entry has no repo URL"
	case IssueMissingSkillMd:
		return "no SKILL.md found"
	case IssueCaseMismatchSkillMd:
		return fmt.Sprintf("expected 'SKILL.md' but found %q (wrong case). Rename to 'SKILL.md' to fix.", i.Found)
	case IssueBrokenSymlink:
		return fmt.Sprintf("broken symlink: %s -> %s", i.Path, i.Target)
	case IssueMissingCompanionSkill:
		return fmt.Sprintf("pattern %q has no companion skill at patterns/%s/skills/%s/SKILL.md", i.Pattern, i.Pattern, i.Pattern)
	default:
		return "unknown audit issue"
	}
}

// AuditResult is one package's accumulated issues.
type AuditResult struct {
	Name   string
	Issues []AuditIssue
}

// Audit checks every package in a project's lockfile against the global
// store, reporting missing checkouts, missing/mis-cased SKILL.md files,
// unknown repos, and patterns without a companion skill.
func Audit(projectRoot, storeRoot string) ([]AuditResult, error) {
	lockfile, err := LoadProjectLockfile(projectRoot)
	if err != nil {
		lockfile = Lockfile{}
	}

	var results []AuditResult
	for _, pkg := range lockfile.Package {
		var issues []AuditIssue

		var commitKey string
		switch {
		case pkg.SourceKind == SourceLocal:
			commitKey = "local"
		case pkg.Commit == "":
			commitKey = ""
		default:
			commitKey = pkg.Commit
		}

		if commitKey == "" {
			if pkg.Repo == "" && pkg.SourceKind != SourceLocal {
				issues = append(issues, AuditIssue{Kind: IssueUnknownRepo})
			}
			issues = append(issues, AuditIssue{Kind: IssueMissingFromDeps})
		} else {
			depPath, err := PackageDir(storeRoot, pkg.Name, commitKey)
			if err != nil {
				return nil, err
			}

			if !isDir(depPath) {
				issues = append(issues, AuditIssue{Kind: IssueMissingFromDeps})
			} else if _, err := os.Stat(filepath.Join(depPath, "SKILL.md")); err != nil {
				if found, ok := detectSkillMdCaseMismatch(depPath); ok {
					issues = append(issues, AuditIssue{Kind: IssueCaseMismatchSkillMd, Found: found})
				} else {
					issues = append(issues, AuditIssue{Kind: IssueMissingSkillMd})
				}
			}

			if pkg.Repo == "" && pkg.SourceKind != SourceLocal {
				issues = append(issues, AuditIssue{Kind: IssueUnknownRepo})
			}

			if isDir(depPath) {
				issues = append(issues, checkCompanionSkills(depPath)...)
			}
		}

		if len(issues) > 0 {
			results = append(results, AuditResult{Name: pkg.Name, Issues: issues})
		}
	}

	return results, nil
}

// detectSkillMdCaseMismatch looks for a case-variant of SKILL.md (e.g.
// skill.md, Skill.md) in dir when the canonical name is missing.
func detectSkillMdCaseMismatch(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name != "SKILL.md" && strings.EqualFold(name, "SKILL.md") {
			return name, true
		}
	}
	return "", false
}

// checkCompanionSkills verifies every pattern under depPath/patterns has a
// companion skill at patterns/<name>/skills/<name>/SKILL.md.
func checkCompanionSkills(depPath string) []AuditIssue {
	patternsDir := filepath.Join(depPath, "patterns")
	entries, err := os.ReadDir(patternsDir)
	if err != nil {
		return nil
	}

	var issues []AuditIssue
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		patternDir := filepath.Join(patternsDir, entry.Name())
		if _, err := os.Stat(filepath.Join(patternDir, "PATTERN.md")); err != nil {
			continue
		}

		companion := filepath.Join(patternDir, "skills", entry.Name(), "SKILL.md")
		if _, err := os.Stat(companion); err != nil {
			issues = append(issues, AuditIssue{Kind: IssueMissingCompanionSkill, Pattern: entry.Name()})
		}
	}
	return issues
}
