package orchestrator

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/csa-dev/csa/internal/csaerr"
)

// Tier is a named, ordered group of ModelSpecs that a project round-robins
// across for a given task type, generalizing the tool-priority fallback a
// multi-tool session model otherwise hardcodes into one fixed order.
type Tier struct {
	Name  string   `toml:"name"`
	Specs []string `toml:"specs"` // each a ParseModelSpec-compatible string
}

// tierCursors is the persisted round-robin position for every tier in a
// project, keyed by tier name.
type tierCursors struct {
	Cursor map[string]int `toml:"cursor"`
}

// TiersPath returns <projectStoreDir>/tiers.toml, the file listing this
// project's configured tiers.
func TiersPath(projectStoreDir string) string {
	return filepath.Join(projectStoreDir, "tiers.toml")
}

// tierCursorsPath returns <projectStoreDir>/tier_cursor.toml, the file
// tracking each tier's next-spec-to-use position.
func tierCursorsPath(projectStoreDir string) string {
	return filepath.Join(projectStoreDir, "tier_cursor.toml")
}

// tiersFile is the on-disk shape of tiers.toml: a flat list, since TOML has
// no native support for a top-level array-of-tables keyed by name.
type tiersFile struct {
	Tier []Tier `toml:"tier"`
}

// LoadTiers reads every configured Tier for a project. A missing file
// yields an empty slice, not an error — tiers are an optional feature.
func LoadTiers(projectStoreDir string) ([]Tier, error) {
	var f tiersFile
	path := TiersPath(projectStoreDir)
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, csaerr.NewParseError("decoding tiers.toml", err)
	}
	return f.Tier, nil
}

// SaveTiers persists tiers to tiers.toml, overwriting whatever is present.
func SaveTiers(projectStoreDir string, tiers []Tier) error {
	path := TiersPath(projectStoreDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return csaerr.NewIoError("creating tiers directory", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(tiersFile{Tier: tiers}); err != nil {
		return csaerr.NewParseError("encoding tiers.toml", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// NextSpec returns the next ModelSpec string in tier's round-robin order,
// advancing and persisting the cursor. Returns ("", false) for an empty tier.
func NextSpec(projectStoreDir string, tier Tier) (string, bool, error) {
	if len(tier.Specs) == 0 {
		return "", false, nil
	}

	cursors, err := loadTierCursors(projectStoreDir)
	if err != nil {
		return "", false, err
	}

	idx := cursors.Cursor[tier.Name] % len(tier.Specs)
	spec := tier.Specs[idx]

	cursors.Cursor[tier.Name] = (idx + 1) % len(tier.Specs)
	if err := saveTierCursors(projectStoreDir, cursors); err != nil {
		return "", false, err
	}
	return spec, true, nil
}

func loadTierCursors(projectStoreDir string) (*tierCursors, error) {
	cursors := &tierCursors{Cursor: make(map[string]int)}
	path := tierCursorsPath(projectStoreDir)
	if _, err := toml.DecodeFile(path, cursors); err != nil {
		if os.IsNotExist(err) {
			return cursors, nil
		}
		return cursors, nil // a corrupt cursor file just restarts round-robin at 0
	}
	if cursors.Cursor == nil {
		cursors.Cursor = make(map[string]int)
	}
	return cursors, nil
}

func saveTierCursors(projectStoreDir string, cursors *tierCursors) error {
	path := tierCursorsPath(projectStoreDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return csaerr.NewIoError("creating tier cursor directory", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cursors); err != nil {
		return csaerr.NewParseError("encoding tier_cursor.toml", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
