package main

import (
	"time"

	"github.com/csa-dev/csa/internal/resource"
	"github.com/csa-dev/csa/internal/session"
)

// pipelineDeps bundles what every command that drives the orchestrator
// needs: the project's session store, its resource guard, and the loaded
// user config (tool registry, slot limits, sandbox defaults).
type pipelineDeps struct {
	store *session.Store
	guard *resource.Guard
	cfg   *session.UserConfig
	root  string
}

func openPipelineDeps(cd string) (*pipelineDeps, error) {
	store, root, err := openProjectStore(cd)
	if err != nil {
		return nil, err
	}
	cfg, err := session.LoadUserConfig(configHome())
	if err != nil {
		return nil, err
	}
	guard, err := resource.NewGuard(resource.Limits{
		MinFreeMemoryMB:   cfg.Resource.MinFreeMemoryMB,
		MinFreeSwapMB:     cfg.Resource.MinFreeSwapMB,
		InitialEstimates:  cfg.Resource.InitialEstimates,
		AdmissionInterval: time.Duration(cfg.Resource.AdmissionIntervalMS) * time.Millisecond,
	}, resource.StatsPath(store.ProjectDir()))
	if err != nil {
		return nil, err
	}
	return &pipelineDeps{store: store, guard: guard, cfg: cfg, root: root}, nil
}

// argvBuilder turns a tool name and an already-substituted prompt into its
// argv, the injection point batch.DispatchOptions.ArgvBuilder expects.
func (d *pipelineDeps) argvBuilder(tool, prompt string) []string {
	def, ok := session.GetToolDef(d.cfg, tool)
	if !ok {
		return []string{tool, prompt}
	}
	return def.Argv(prompt, "")
}
