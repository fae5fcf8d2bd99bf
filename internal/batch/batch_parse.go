package batch

import (
	"github.com/BurntSushi/toml"
	"github.com/csa-dev/csa/internal/csaerr"
)

// ParseBatchFile decodes a batch TOML document into a BatchConfig,
// defaulting each task's Mode to TaskModeSequential when the field is
// left unset (TOML zero value for an unset string).
func ParseBatchFile(data []byte) (*BatchConfig, error) {
	var cfg BatchConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, csaerr.Wrap(csaerr.ParseError, "failed to parse batch file", err)
	}
	for i := range cfg.Tasks {
		if cfg.Tasks[i].Mode == "" {
			cfg.Tasks[i].Mode = TaskModeSequential
		}
	}
	return &cfg, nil
}
