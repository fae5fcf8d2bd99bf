package session

import (
	"fmt"
	"strings"

	"github.com/csa-dev/csa/internal/transport"
)

// SoftForkTokenBudget caps the context summary injected into a soft-forked
// session. Codex, gemini-cli, and opencode have no provider-level session
// resume, so a fork to one of them carries its context as a prompt prefix
// instead; this budget keeps that prefix from dominating the child's first
// turn.
const SoftForkTokenBudget = 2000

// SoftForkContext is the context a soft fork injects into its child
// session's first prompt.
type SoftForkContext struct {
	ContextSummary  string
	ParentSessionID string
}

// BuildSoftForkContext assembles a SoftForkContext from parentID's result,
// structured output index, and summary section, truncated to
// SoftForkTokenBudget and redacted with redactor before being wrapped for
// injection. A parent with no result.toml or structured output yet still
// produces a context (just a placeholder), since a fork can target a
// session that is mid-run.
func BuildSoftForkContext(store *Store, parentID string, redactor *transport.Redactor) (*SoftForkContext, error) {
	var parts []string

	result, err := store.LoadResult(parentID)
	if err != nil {
		return nil, err
	}
	if result != nil {
		parts = append(parts, fmt.Sprintf(
			"Parent session ran tool '%s', status: %s, exit code: %d.",
			result.Tool, result.Status, result.ExitCode))
		if result.Summary != "" {
			parts = append(parts, "Result summary: "+result.Summary)
		}
		if len(result.Artifacts) > 0 {
			paths := make([]string, len(result.Artifacts))
			for i, a := range result.Artifacts {
				paths[i] = a.Path
			}
			parts = append(parts, "Artifacts: "+strings.Join(paths, ", "))
		}
	}

	sessionDir := store.SessionDir(parentID)

	index, err := LoadOutputIndex(sessionDir)
	if err != nil {
		return nil, err
	}
	if index != nil && len(index.Sections) > 0 {
		ids := make([]string, len(index.Sections))
		for i, s := range index.Sections {
			ids[i] = s.ID
		}
		parts = append(parts, fmt.Sprintf(
			"Structured output sections: %s (total ~%d tokens).",
			strings.Join(ids, ", "), index.Total))
	}

	summary, err := ReadSection(sessionDir, "summary")
	if err != nil {
		return nil, err
	}
	if summary != "" {
		parts = append(parts, "Summary from parent:\n"+summary)
	}

	raw := "No prior context available from parent session."
	if len(parts) > 0 {
		raw = strings.Join(parts, "\n")
	}

	truncated := truncateToTokenBudget(raw, SoftForkTokenBudget)
	redacted := redactor.Redact(truncated)

	contextSummary := fmt.Sprintf(
		"You are continuing work from a previous session (ID: %s). Key context:\n%s",
		parentID, redacted)

	return &SoftForkContext{
		ContextSummary:  contextSummary,
		ParentSessionID: parentID,
	}, nil
}

// truncateToTokenBudget removes words from the end of text until its
// EstimateTokens estimate fits within budget, then appends a marker noting
// the cut. The target word count is budget*3/4, the inverse of
// EstimateTokens' words*4/3 formula.
func truncateToTokenBudget(text string, budget int) string {
	if EstimateTokens(text) <= budget {
		return text
	}

	words := strings.Fields(text)
	targetWords := budget * 3 / 4
	if targetWords > len(words) {
		targetWords = len(words)
	}
	return strings.Join(words[:targetWords], " ") + "\n[truncated]"
}
