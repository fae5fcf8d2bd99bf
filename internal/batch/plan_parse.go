package batch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/csa-dev/csa/internal/csaerr"
)

// planFile is the on-disk TOML shape of a plan file: `on_fail` is a
// compact string form ("abort" | "skip" | "retry(n)" | "delegate(tool)")
// rather than a TOML sub-table, matching how the rest of csa's config
// favors flat scalar fields over nested tables where it can.
type planFile struct {
	Name        string             `toml:"name"`
	Description string             `toml:"description"`
	Variables   []planVariableFile `toml:"variables"`
	Steps       []planStepFile     `toml:"steps"`
}

type planVariableFile struct {
	Name    string `toml:"name"`
	Default string `toml:"default"`
}

type planStepFile struct {
	ID         int    `toml:"id"`
	Title      string `toml:"title"`
	Tool       string `toml:"tool"`
	Prompt     string `toml:"prompt"`
	Tier       string `toml:"tier"`
	DependsOn  []int  `toml:"depends_on"`
	OnFail     string `toml:"on_fail"`
	Condition  string `toml:"condition"`
	LoopVar    string `toml:"loop_var"`
	LoopColl   string `toml:"loop_collection"`
	LoopMaxIte int    `toml:"loop_max_iterations"`
}

// ParsePlanFile decodes a plan TOML document into an ExecutionPlan.
func ParsePlanFile(data []byte) (*ExecutionPlan, error) {
	var raw planFile
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, csaerr.Wrap(csaerr.ParseError, "failed to parse plan file", err)
	}

	plan := &ExecutionPlan{Name: raw.Name, Description: raw.Description}
	for _, v := range raw.Variables {
		decl := VariableDecl{Name: v.Name}
		if v.Default != "" {
			decl.Default = v.Default
			decl.HasDefault = true
		}
		plan.Variables = append(plan.Variables, decl)
	}

	for _, s := range raw.Steps {
		onFail, err := ParseFailAction(s.OnFail)
		if err != nil {
			return nil, err
		}
		step := PlanStep{
			ID:        s.ID,
			Title:     s.Title,
			Tool:      s.Tool,
			Prompt:    s.Prompt,
			Tier:      s.Tier,
			DependsOn: s.DependsOn,
			OnFail:    onFail,
			Condition: s.Condition,
		}
		if s.LoopVar != "" {
			step.LoopVar = &LoopSpec{
				Variable:      s.LoopVar,
				Collection:    s.LoopColl,
				MaxIterations: s.LoopMaxIte,
			}
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// ParseFailAction parses a step's on_fail string form. An empty string
// defaults to Abort, matching "fail the plan" being the safer default.
func ParseFailAction(s string) (FailAction, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "abort":
		return FailAction{Kind: FailAbort}, nil
	case s == "skip":
		return FailAction{Kind: FailSkip}, nil
	case strings.HasPrefix(s, "retry(") && strings.HasSuffix(s, ")"):
		n, err := strconv.Atoi(s[len("retry(") : len(s)-1])
		if err != nil {
			return FailAction{}, csaerr.New(csaerr.ParseError, fmt.Sprintf("invalid on_fail retry count in %q", s))
		}
		return FailAction{Kind: FailRetry, N: n}, nil
	case strings.HasPrefix(s, "delegate(") && strings.HasSuffix(s, ")"):
		tool := s[len("delegate(") : len(s)-1]
		if _, err := ParseToolName(tool); err != nil {
			return FailAction{}, err
		}
		return FailAction{Kind: FailDelegate, Delegate: tool}, nil
	default:
		return FailAction{}, csaerr.New(csaerr.ParseError, fmt.Sprintf("unknown on_fail directive %q", s))
	}
}
