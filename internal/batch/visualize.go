package batch

import (
	"fmt"
	"strings"
)

const (
	defaultVisualizeColumns = 100
	minVisualizeColumns     = 60
)

// RenderASCII renders plan as a box-drawn tree of its steps, in the order
// they are declared, grouping consecutive steps that share the same gating condition
// under a single "if <condition>" header the way a CI job graph reads top
// to bottom.
func RenderASCII(plan *ExecutionPlan, width int) string {
	if width < minVisualizeColumns {
		width = minVisualizeColumns
	}

	var lines []string
	lines = append(lines, clampLine(fmt.Sprintf("Plan: %s", plan.Name), width))
	if plan.Description != "" {
		lines = append(lines, clampLine(plan.Description, width))
	}
	if len(plan.Variables) > 0 {
		lines = append(lines, renderVariablesBox(plan, width)...)
	}

	prevCondition := ""
	for _, step := range plan.Steps {
		if step.Condition != prevCondition && step.Condition != "" {
			lines = append(lines, clampLine(fmt.Sprintf("◇ if %s ?", step.Condition), width))
		}
		prevCondition = step.Condition

		indent := ""
		if step.Condition != "" {
			indent = "  "
		}
		tool := step.Tool
		if tool == "" {
			tool = "none"
		}
		lines = append(lines, clampLine(fmt.Sprintf("%s┌─ [%d] %s [%s]", indent, step.ID, step.Title, tool), width))
		if step.LoopVar != nil {
			lines = append(lines, clampLine(fmt.Sprintf("%s│ loop: %s in %s", indent, step.LoopVar.Variable, step.LoopVar.Collection), width))
		}
		if step.Prompt != "" {
			preview := strings.SplitN(step.Prompt, "\n", 2)[0]
			lines = append(lines, clampLine(fmt.Sprintf("%s│ %s", indent, strings.TrimSpace(preview)), width))
		}
		if step.OnFail.Kind != FailAbort {
			lines = append(lines, clampLine(fmt.Sprintf("%s│ on_fail -- > %s", indent, formatFailAction(step.OnFail)), width))
		}
		lines = append(lines, clampLine(indent+"└─", width))
	}

	return strings.Join(lines, "\n")
}

func renderVariablesBox(plan *ExecutionPlan, width int) []string {
	names := make([]string, len(plan.Variables))
	for i, v := range plan.Variables {
		names[i] = v.Name
	}
	return renderBox("Variables", strings.Join(names, ", "), width)
}

func renderBox(title, content string, width int) []string {
	inner := width - 2
	if inner < 20 {
		inner = 20
	}
	titleText := " " + title + " "
	dashes := inner - len(titleText)
	if dashes < 0 {
		dashes = 0
	}
	top := "┌" + titleText + strings.Repeat("─", dashes) + "┐"
	middle := "│" + padRight(truncate(content, inner), inner) + "│"
	bottom := "└" + strings.Repeat("─", inner) + "┘"
	return []string{clampLine(top, width), clampLine(middle, width), clampLine(bottom, width)}
}

func formatFailAction(action FailAction) string {
	switch action.Kind {
	case FailRetry:
		return fmt.Sprintf("retry:%d", action.N)
	case FailSkip:
		return "skip"
	case FailDelegate:
		return fmt.Sprintf("delegate:%s", action.Delegate)
	default:
		return string(action.Kind)
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func truncate(input string, maxChars int) string {
	if len(input) <= maxChars {
		return input
	}
	if maxChars <= 3 {
		return strings.Repeat(".", maxChars)
	}
	return input[:maxChars-3] + "..."
}

func clampLine(line string, width int) string {
	return truncate(line, width)
}

// RenderDot renders plan's steps and their dependency/on_fail edges as a
// Graphviz DOT digraph, the plain-text input `dot -Tpng` or `dot -Tsvg`
// expects.
func RenderDot(plan *ExecutionPlan) string {
	var out strings.Builder
	out.WriteString("digraph csa_plan {\n")
	out.WriteString("  rankdir=TB;\n")
	out.WriteString("  node [fontname=\"monospace\"];\n")

	for _, step := range plan.Steps {
		tool := step.Tool
		if tool == "" {
			tool = "none"
		}
		label := fmt.Sprintf("%d. %s\\n[%s]", step.ID, step.Title, tool)
		if step.LoopVar != nil {
			label += fmt.Sprintf("\\nloop: %s", step.LoopVar.Variable)
		}
		out.WriteString(fmt.Sprintf("  S%d [shape=box, label=\"%s\"];\n", step.ID, escapeDotLabel(label)))
	}

	for _, step := range plan.Steps {
		if step.OnFail.Kind != FailAbort {
			out.WriteString(fmt.Sprintf("  F%d [shape=circle, label=\"%s\"];\n", step.ID, escapeDotLabel(formatFailAction(step.OnFail))))
		}
	}

	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			out.WriteString(fmt.Sprintf("  S%d -> S%d;\n", dep, step.ID))
		}
		if step.OnFail.Kind != FailAbort {
			out.WriteString(fmt.Sprintf("  S%d -> F%d [style=\"dashed\", label=\"on_fail\"];\n", step.ID, step.ID))
		}
	}

	out.WriteString("}\n")
	return out.String()
}

func escapeDotLabel(input string) string {
	input = strings.ReplaceAll(input, `\`, `\\`)
	return strings.ReplaceAll(input, `"`, `\"`)
}
