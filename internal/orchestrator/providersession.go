package orchestrator

import (
	"regexp"
)

// ExtractProviderSessionID attempts to pull a provider-native session ID
// out of a tool's stdout when the transport didn't already surface one
// directly (e.g. legacy non-ACP transports). Extraction failure degrades
// to ("", false) rather than an error — forking/resuming without a
// provider session ID simply falls back to prompt-replay.
func ExtractProviderSessionID(tool, output string) (string, bool) {
	switch tool {
	case "gemini-cli", "gemini":
		// No known stable pattern in text-mode Gemini CLI output.
		return "", false
	case "opencode":
		if id, ok := extractJSONField(output, "session_id"); ok {
			return id, true
		}
		return extractJSONField(output, "sessionId")
	case "codex":
		if id, ok := extractJSONField(output, "session_id"); ok {
			return id, true
		}
		return extractJSONField(output, "thread_id")
	case "claude-code", "claude":
		return extractJSONField(output, "session_id")
	default:
		return "", false
	}
}

// extractJSONField does a tolerant regex scan for "field":"value" rather
// than a full JSON parse, sufficient for pulling a single string field out
// of otherwise-unstructured or partially-streamed tool output.
func extractJSONField(output, field string) (string, bool) {
	re, err := regexp.Compile(`"` + regexp.QuoteMeta(field) + `"\s*:\s*"([^"]+)"`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}
