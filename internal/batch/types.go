// Package batch implements the Batch/Plan DAG Engine: batch
// task files and plan workflow files share the same dependency-layering
// core (a Kahn-style topological sort producing waves of independently
// runnable work) but differ in execution semantics — batch tasks run to
// completion or failure, plan steps additionally support conditions,
// variable substitution, and per-step failure policies.
package batch

// TaskMode controls whether a batch task may run concurrently with its
// wave-mates. Sequential is the TOML default.
type TaskMode string

const (
	TaskModeSequential TaskMode = "sequential"
	TaskModeParallel   TaskMode = "parallel"
)

// BatchTask is one entry of a batch file's [[tasks]] list.
type BatchTask struct {
	Name      string `toml:"name"`
	Tool      string `toml:"tool"`
	Prompt    string `toml:"prompt"`
	Mode      TaskMode `toml:"mode"`
	DependsOn []string `toml:"depends_on"`
	Model     string `toml:"model,omitempty"`
}

// BatchConfig is the root of a batch TOML file.
type BatchConfig struct {
	Tasks []BatchTask `toml:"tasks"`
}

// VariableDecl declares a plan variable and its optional default.
type VariableDecl struct {
	Name       string
	Default    string
	HasDefault bool
}

// LoopSpec marks a step as iterating over a collection. Loop execution is
// compile-time only today: such steps are always skipped with
// a non-zero exit code rather than silently treated as success.
type LoopSpec struct {
	Variable      string
	Collection    string
	MaxIterations int
}

// FailActionKind enumerates a plan step's on_fail policy.
type FailActionKind string

const (
	FailAbort    FailActionKind = "abort"
	FailSkip     FailActionKind = "skip"
	FailRetry    FailActionKind = "retry"
	FailDelegate FailActionKind = "delegate"
)

// FailAction is a step's on_fail directive. N is only meaningful for
// FailRetry; Delegate only for FailDelegate.
type FailAction struct {
	Kind     FailActionKind
	N        int
	Delegate string
}

// PlanStep is one entry of a plan file's steps list.
type PlanStep struct {
	ID        int
	Title     string
	Tool      string
	Prompt    string
	Tier      string
	DependsOn []int
	OnFail    FailAction
	Condition string
	LoopVar   *LoopSpec
}

// ExecutionPlan is a parsed plan workflow file.
type ExecutionPlan struct {
	Name        string
	Description string
	Variables   []VariableDecl
	Steps       []PlanStep
}

// StepResult is the outcome of executing a single plan step.
type StepResult struct {
	StepID       int
	Title        string
	ExitCode     int
	Output       string
	SessionID    string
	Skipped      bool
	Error        string
	DurationSecs float64
}

// StepTargetKind classifies how a step's tool field resolves.
type StepTargetKind string

const (
	StepTargetBash         StepTargetKind = "bash"
	StepTargetWeaveInclude StepTargetKind = "weave-include"
	StepTargetCsaTool      StepTargetKind = "csa-tool"
)

// StepTarget is the resolved dispatch target for a plan step.
type StepTarget struct {
	Kind      StepTargetKind
	ToolName  string
	ModelSpec string
}
