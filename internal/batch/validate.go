package batch

import (
	"fmt"

	"github.com/csa-dev/csa/internal/csaerr"
)

// KnownTools lists every tool name the pipeline can dispatch to.
var KnownTools = []string{"codex", "claude-code", "gemini-cli", "opencode"}

// ParseToolName validates tool against KnownTools, returning it unchanged
// on success.
func ParseToolName(tool string) (string, error) {
	for _, known := range KnownTools {
		if tool == known {
			return tool, nil
		}
	}
	return "", csaerr.New(csaerr.ParseError, fmt.Sprintf("Unknown tool: %q", tool))
}

// ValidateTasks checks a batch task list for duplicate names, dangling
// depends_on references, and dependency cycles.
func ValidateTasks(tasks []BatchTask) error {
	taskMap := make(map[string]*BatchTask, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		if _, exists := taskMap[t.Name]; exists {
			return csaerr.New(csaerr.ParseError, fmt.Sprintf("Duplicate task name: %q", t.Name))
		}
		taskMap[t.Name] = t
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := taskMap[dep]; !ok {
				return csaerr.New(csaerr.ParseError,
					fmt.Sprintf("task %q depends on unknown task %q", t.Name, dep))
			}
		}
	}

	visiting := make(map[string]int, len(tasks)) // 0=unvisited 1=gray 2=black
	for _, t := range tasks {
		if visiting[t.Name] == 0 {
			if err := detectCycle(t.Name, taskMap, visiting); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectCycle runs a gray/black-marked DFS from name, erroring on the
// first back-edge it finds (including a direct self-dependency).
func detectCycle(name string, taskMap map[string]*BatchTask, visiting map[string]int) error {
	visiting[name] = 1

	t, ok := taskMap[name]
	if !ok {
		visiting[name] = 2
		return nil
	}
	for _, dep := range t.DependsOn {
		switch visiting[dep] {
		case 1:
			return csaerr.New(csaerr.ParseError, fmt.Sprintf("dependency cycle detected: %s -> %s", name, dep))
		case 0:
			if err := detectCycle(dep, taskMap, visiting); err != nil {
				return err
			}
		}
	}
	visiting[name] = 2
	return nil
}

// BuildExecutionPlan layers a validated batch task list into waves via a
// Kahn-style topological sort: each wave holds every task whose
// dependencies have all already appeared in an earlier wave, so tasks
// within a wave may run concurrently.
func BuildExecutionPlan(tasks []BatchTask) ([][]string, error) {
	if err := ValidateTasks(tasks); err != nil {
		return nil, err
	}

	remaining := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		remaining[t.Name] = append([]string(nil), t.DependsOn...)
	}

	var waves [][]string
	done := make(map[string]bool, len(tasks))
	for len(done) < len(tasks) {
		var wave []string
		for _, t := range tasks {
			if done[t.Name] {
				continue
			}
			if allSatisfied(remaining[t.Name], done) {
				wave = append(wave, t.Name)
			}
		}
		if len(wave) == 0 {
			return nil, csaerr.New(csaerr.ParseError, "dependency cycle detected while building execution plan")
		}
		for _, name := range wave {
			done[name] = true
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

func allSatisfied(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

// BuildStepWaves layers a plan's steps the same way BuildExecutionPlan
// layers batch tasks, keyed by step ID instead of task name.
func BuildStepWaves(steps []PlanStep) ([][]int, error) {
	byID := make(map[int]*PlanStep, len(steps))
	for i := range steps {
		byID[steps[i].ID] = &steps[i]
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, csaerr.New(csaerr.ParseError,
					fmt.Sprintf("step %d depends on unknown step %d", s.ID, dep))
			}
		}
	}

	var waves [][]int
	done := make(map[int]bool, len(steps))
	for len(done) < len(steps) {
		var wave []int
		for _, s := range steps {
			if done[s.ID] {
				continue
			}
			satisfied := true
			for _, dep := range s.DependsOn {
				if !done[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				wave = append(wave, s.ID)
			}
		}
		if len(wave) == 0 {
			return nil, csaerr.New(csaerr.ParseError, "dependency cycle detected while building step plan")
		}
		for _, id := range wave {
			done[id] = true
		}
		waves = append(waves, wave)
	}
	return waves, nil
}
