package lockstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/csa-dev/csa/internal/csaerr"
)

// LoadLockfile reads and parses the lockfile at path.
func LoadLockfile(path string) (Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lockfile{}, csaerr.Wrap(csaerr.IoError, "read lockfile "+path, err)
	}
	var lf Lockfile
	if _, err := toml.Decode(string(data), &lf); err != nil {
		return Lockfile{}, csaerr.Wrap(csaerr.ParseError, "parse lockfile "+path, err)
	}
	return lf, nil
}

// LoadProjectLockfile reads the current-format lockfile at a project's
// root, returning an empty Lockfile if it doesn't exist yet.
func LoadProjectLockfile(projectRoot string) (Lockfile, error) {
	path := LockfilePath(projectRoot)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Lockfile{}, nil
	}
	return LoadLockfile(path)
}

// SaveLockfile writes lf to path atomically (write to a sibling .tmp file,
// then rename over the target).
func SaveLockfile(path string, lf Lockfile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return csaerr.Wrap(csaerr.IoError, "create lockfile dir", err)
	}

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(lf); err != nil {
		return csaerr.Wrap(csaerr.IoError, "encode lockfile", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(buf.String()), 0o644); err != nil {
		return csaerr.Wrap(csaerr.IoError, "write lockfile tmp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return csaerr.Wrap(csaerr.IoError, "rename lockfile into place", err)
	}
	return nil
}
