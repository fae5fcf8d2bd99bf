// Package orchestrator implements the Pipeline Orchestrator:
// the glue that sequences session creation, resource admission, slot
// acquisition, sandbox preparation, process transport, and liveness/result
// recording into one tool invocation, plus soft-fork seed session reuse.
package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
)

// ThinkingBudget is a tool-agnostic reasoning-effort tier.
type ThinkingBudget struct {
	Tier   string // "low" | "medium" | "high" | "xhigh" | "custom"
	Custom int // set when Tier == "custom"
}

// ModelSpec is the unified "tool/provider/model/thinking_budget" identifier
// used to select which tool, provider, and model a session runs against.
type ModelSpec struct {
	Tool           string
	Provider       string
	Model          string
	ThinkingBudget ThinkingBudget
}

// ParseModelSpec parses "tool/provider/model/thinking_budget", e.g.
// "opencode/google/gemini-2.5-pro/high".
func ParseModelSpec(spec string) (*ModelSpec, error) {
	parts := strings.SplitN(spec, "/", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid model spec %q: expected tool/provider/model/thinking_budget", spec)
	}

	budget, err := parseThinkingBudget(parts[3])
	if err != nil {
		return nil, err
	}

	return &ModelSpec{
		Tool:           parts[0],
		Provider:       parts[1],
		Model:          parts[2],
		ThinkingBudget: budget,
	}, nil
}

// parseThinkingBudget accepts low, medium/med, high, xhigh/extra-high, or a
// numeric custom value.
func parseThinkingBudget(s string) (ThinkingBudget, error) {
	switch strings.ToLower(s) {
	case "low":
		return ThinkingBudget{Tier: "low"}, nil
	case "medium", "med":
		return ThinkingBudget{Tier: "medium"}, nil
	case "high":
		return ThinkingBudget{Tier: "high"}, nil
	case "xhigh", "extra-high":
		return ThinkingBudget{Tier: "xhigh"}, nil
	default:
		n, err := strconv.Atoi(strings.ToLower(s))
		if err != nil {
			return ThinkingBudget{}, fmt.Errorf("invalid thinking budget %q: expected low/medium/high/xhigh or a number", s)
		}
		return ThinkingBudget{Tier: "custom", Custom: n}, nil
	}
}
