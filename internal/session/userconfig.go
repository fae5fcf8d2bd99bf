package session

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/csa-dev/csa/internal/csaerr"
	"github.com/csa-dev/csa/internal/logging"
)

var configLog = logging.ForComponent(logging.CompConfig)

// SandboxConfig is the sandbox defaults consumed by sandbox.Prepare.
type SandboxConfig struct {
	Required    bool   `toml:"required"`
	MemoryMaxMB int    `toml:"memory_max_mb"`
	PidsMax     uint64 `toml:"pids_max"`
}

// SlotConfig is per-tool concurrency limits consumed by slot.AcquireWithWait.
type SlotConfig struct {
	MaxConcurrent map[string]int `toml:"max_concurrent"`
}

// ResourceConfig is the admission thresholds consumed by resource.NewGuard.
type ResourceConfig struct {
	MinFreeMemoryMB      uint64            `toml:"min_free_memory_mb"`
	MinFreeSwapMB        uint64            `toml:"min_free_swap_mb"`
	InitialEstimates     map[string]uint64 `toml:"initial_estimates"`
	AdmissionIntervalMS  int               `toml:"admission_interval_ms"` // minimum spacing between admission checks per tool
}

// TerminationConfig controls the idle-kill escalation sequence.
type TerminationConfig struct {
	GracePeriodSeconds int `toml:"grace_period_seconds"`
}

// GcConfig bounds how much ACP transcript history (output/acp-events.jsonl
// per session) csa gc keeps around, consulted by CleanupTranscripts.
type GcConfig struct {
	TranscriptMaxSizeMB  uint64 `toml:"transcript_max_size_mb"`
	TranscriptMaxAgeDays uint64 `toml:"transcript_max_age_days"`
}

// ToolDef is the registry entry for one supported CLI tool, looked up for
// cmd/csa's --tool flag: how to invoke it and which environment variable
// (if any) the tool uses for its own native session ID. SessionIDEnv is
// recorded but not read by csa; orchestrator.ExtractProviderSessionID
// parses the tool's stdout instead.
type ToolDef struct {
	Command      string   `toml:"command"`
	PromptArgs   []string `toml:"prompt_args"`   // args preceding the prompt string, e.g. ["exec"]
	ResumeFlag   string   `toml:"resume_flag"`    // flag name used to resume a provider session, e.g. "--resume"
	SessionIDEnv string   `toml:"session_id_env"` // env var the tool reads/writes its own session id through
}

// Argv builds the full argv for invoking this tool against prompt, and
// optionally resuming providerSessionID when the tool supports it.
func (t ToolDef) Argv(prompt, providerSessionID string) []string {
	argv := make([]string, 0, len(t.PromptArgs)+3)
	argv = append(argv, t.Command)
	argv = append(argv, t.PromptArgs...)
	if providerSessionID != "" && t.ResumeFlag != "" {
		argv = append(argv, t.ResumeFlag, providerSessionID)
	}
	return append(argv, prompt)
}

// MCPBackendConfig is one entry of config.toml's [[mcp_backends]] list: a
// backend MCP server the project's Hub should register and proxy to.
// Mirrors mcphub.BackendSpec field-for-field so LoadUserConfig needs no
// translation logic beyond the TOML tags.
type MCPBackendConfig struct {
	Name            string            `toml:"name"`
	Command         string            `toml:"command,omitempty"`
	Args            []string          `toml:"args,omitempty"`
	Env             map[string]string `toml:"env,omitempty"`
	URL             string            `toml:"url,omitempty"`
	Insecure        bool              `toml:"insecure,omitempty"`
	RateLimitPerSec float64           `toml:"rate_limit_per_sec,omitempty"` // 0 means unlimited
	Burst           int               `toml:"burst,omitempty"`
}

// UserConfig is the root of config.toml: the Go structs the core reads.
// There is no validation DSL and no env-var overlay; LoadUserConfig and
// SaveUserConfig are direct toml.Decode/toml.Encode round trips.
type UserConfig struct {
	Sandbox     SandboxConfig      `toml:"sandbox"`
	Slots       SlotConfig         `toml:"slots"`
	Resource    ResourceConfig     `toml:"resource"`
	Termination TerminationConfig  `toml:"termination"`
	Gc          GcConfig           `toml:"gc"`
	Tools       map[string]ToolDef `toml:"tools"`
	MCPBackends []MCPBackendConfig `toml:"mcp_backends"`
}

var (
	userConfigMu    sync.RWMutex
	userConfigCache *UserConfig
)

// defaultToolRegistry is the seed tool set shipped when no [tools] section
// is present in config.toml.
func defaultToolRegistry() map[string]ToolDef {
	return map[string]ToolDef{
		"codex": {
			Command:      "codex",
			PromptArgs:   []string{"exec"},
			ResumeFlag:   "resume",
			SessionIDEnv: "CODEX_SESSION_ID",
		},
		"claude-code": {
			Command:      "claude",
			PromptArgs:   []string{"-p"},
			ResumeFlag:   "--resume",
			SessionIDEnv: "CLAUDE_SESSION_ID",
		},
		"gemini-cli": {
			Command:    "gemini",
			PromptArgs: []string{},
		},
		"opencode": {
			Command:      "opencode",
			PromptArgs:   []string{"run"},
			ResumeFlag:   "--session",
			SessionIDEnv: "OPENCODE_SESSION_ID",
		},
	}
}

// DefaultUserConfig is the configuration csa runs with when no config.toml
// exists yet.
func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Sandbox: SandboxConfig{
			Required:    false,
			MemoryMaxMB: 4096,
			PidsMax:     512,
		},
		Slots: SlotConfig{
			MaxConcurrent: map[string]int{
				"codex":       4,
				"claude-code": 4,
				"gemini-cli":  4,
				"opencode":    4,
			},
		},
		Resource: ResourceConfig{
			MinFreeMemoryMB: 1024,
			MinFreeSwapMB:   512,
			InitialEstimates: map[string]uint64{
				"codex":       1024,
				"claude-code": 1024,
				"gemini-cli":  768,
				"opencode":    768,
			},
			AdmissionIntervalMS: 250,
		},
		Termination: TerminationConfig{
			GracePeriodSeconds: 5,
		},
		Gc: GcConfig{
			TranscriptMaxSizeMB:  256,
			TranscriptMaxAgeDays: 30,
		},
		Tools: defaultToolRegistry(),
	}
}

// UserConfigPath returns <configHome>/csa/config.toml.
func UserConfigPath(configHome string) string {
	return filepath.Join(configHome, "csa", "config.toml")
}

// LoadUserConfig loads config.toml under configHome, caching the result.
// A missing file is not an error: it yields DefaultUserConfig.
func LoadUserConfig(configHome string) (*UserConfig, error) {
	userConfigMu.RLock()
	if userConfigCache != nil {
		defer userConfigMu.RUnlock()
		return userConfigCache, nil
	}
	userConfigMu.RUnlock()

	path := UserConfigPath(configHome)
	cfg := DefaultUserConfig()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			userConfigMu.Lock()
			userConfigCache = cfg
			userConfigMu.Unlock()
			return cfg, nil
		}
		return nil, csaerr.NewIoError("statting config file", err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, csaerr.NewParseError("decoding config.toml", err)
	}
	fillDefaults(cfg)

	userConfigMu.Lock()
	userConfigCache = cfg
	userConfigMu.Unlock()
	return cfg, nil
}

// fillDefaults patches in default maps/tool entries a partially-specified
// config.toml left unset, the same "zero value means absent" convention
// used throughout config.toml.
func fillDefaults(cfg *UserConfig) {
	if cfg.Slots.MaxConcurrent == nil {
		cfg.Slots.MaxConcurrent = DefaultUserConfig().Slots.MaxConcurrent
	}
	if cfg.Resource.MinFreeMemoryMB == 0 {
		cfg.Resource.MinFreeMemoryMB = DefaultUserConfig().Resource.MinFreeMemoryMB
	}
	if cfg.Resource.InitialEstimates == nil {
		cfg.Resource.InitialEstimates = DefaultUserConfig().Resource.InitialEstimates
	}
	if cfg.Resource.AdmissionIntervalMS == 0 {
		cfg.Resource.AdmissionIntervalMS = DefaultUserConfig().Resource.AdmissionIntervalMS
	}
	if cfg.Termination.GracePeriodSeconds == 0 {
		cfg.Termination.GracePeriodSeconds = DefaultUserConfig().Termination.GracePeriodSeconds
	}
	if cfg.Gc.TranscriptMaxSizeMB == 0 {
		cfg.Gc.TranscriptMaxSizeMB = DefaultUserConfig().Gc.TranscriptMaxSizeMB
	}
	if cfg.Gc.TranscriptMaxAgeDays == 0 {
		cfg.Gc.TranscriptMaxAgeDays = DefaultUserConfig().Gc.TranscriptMaxAgeDays
	}
	if cfg.Tools == nil {
		cfg.Tools = defaultToolRegistry()
		return
	}
	for name, def := range defaultToolRegistry() {
		if _, ok := cfg.Tools[name]; !ok {
			cfg.Tools[name] = def
		}
	}
}

// ReloadUserConfig forces the next LoadUserConfig to re-read from disk.
func ReloadUserConfig(configHome string) (*UserConfig, error) {
	ClearUserConfigCache()
	return LoadUserConfig(configHome)
}

// ClearUserConfigCache drops the cached config, forcing the next
// LoadUserConfig to hit disk.
func ClearUserConfigCache() {
	userConfigMu.Lock()
	userConfigCache = nil
	userConfigMu.Unlock()
}

// SaveUserConfig writes cfg to configHome's config.toml atomically (temp
// file, fsync, rename) and clears the cache so the next load picks it up.
func SaveUserConfig(configHome string, cfg *UserConfig) error {
	path := UserConfigPath(configHome)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return csaerr.NewIoError("creating config directory", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return csaerr.NewIoError("encoding config.toml", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return csaerr.NewIoError("creating temp config file", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return csaerr.NewIoError("writing temp config file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return csaerr.NewIoError("syncing temp config file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return csaerr.NewIoError("closing temp config file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return csaerr.NewIoError("renaming config file into place", err)
	}

	ClearUserConfigCache()
	configLog.Info("config_saved", slog.String("path", path))
	return nil
}

// ValidateUserConfig checks that cfg's referenced tools and limits are
// internally consistent, without touching the filesystem or spawning a
// process.
func ValidateUserConfig(cfg *UserConfig) error {
	if len(cfg.Tools) == 0 {
		return csaerr.NewConfigError("no tools registered")
	}
	for name, def := range cfg.Tools {
		if def.Command == "" {
			return csaerr.NewConfigError(fmt.Sprintf("tool %q has no command", name))
		}
	}
	for tool, max := range cfg.Slots.MaxConcurrent {
		if max <= 0 {
			return csaerr.NewConfigError(fmt.Sprintf("slots.max_concurrent[%s] must be positive, got %d", tool, max))
		}
	}
	if cfg.Sandbox.MemoryMaxMB < 0 {
		return csaerr.NewConfigError("sandbox.memory_max_mb must not be negative")
	}
	return nil
}

// GetToolDef looks up a tool's registry entry, falling back to the seed
// registry when cfg or the named entry is absent.
func GetToolDef(cfg *UserConfig, tool string) (ToolDef, bool) {
	if cfg != nil {
		if def, ok := cfg.Tools[tool]; ok {
			return def, true
		}
	}
	def, ok := defaultToolRegistry()[tool]
	return def, ok
}

// GetMaxConcurrent returns the per-tool slot limit, falling back to 1 when
// unconfigured (never silently unbounded).
func GetMaxConcurrent(cfg *UserConfig, tool string) int {
	if cfg != nil {
		if max, ok := cfg.Slots.MaxConcurrent[tool]; ok && max > 0 {
			return max
		}
	}
	return 1
}
