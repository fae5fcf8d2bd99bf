package main

import (
	"os"
	"path/filepath"
)

// configHome is $XDG_CONFIG_HOME, falling back to ~/.config.
func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config"
	}
	return filepath.Join(home, ".config")
}

// runtimeDir is $XDG_RUNTIME_DIR, falling back to a per-user dir under
// /tmp when unset (e.g. non-systemd hosts).
func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "csa")
	}
	return filepath.Join(os.TempDir(), "csa", os.Getenv("USER"))
}

// storeRoot is where session directories and the lockstore's package
// checkouts live, rooted under configHome alongside config.toml.
func storeRoot() string {
	return filepath.Join(configHome(), "csa", "store")
}

// cacheRoot is the lockstore's content-addressed checkout cache.
func cacheRoot() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "csa")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "csa-cache")
	}
	return filepath.Join(home, ".cache", "csa")
}

// logDir is where csa's own rotated debug log lives.
func logDir() string {
	return filepath.Join(configHome(), "csa", "logs")
}

// projectRoot resolves --cd (if set) else the working directory.
func projectRoot(cd string) (string, error) {
	if cd != "" {
		return filepath.Abs(cd)
	}
	return os.Getwd()
}
