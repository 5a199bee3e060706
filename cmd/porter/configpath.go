package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolveConfigPath mirrors the original's search order: an explicit flag
// wins, otherwise ./porter.toml, otherwise ~/.config/porter/porter.toml.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if _, err := os.Stat("porter.toml"); err == nil {
		return "porter.toml", nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		xdg := filepath.Join(home, ".config", "porter", "porter.toml")
		if _, err := os.Stat(xdg); err == nil {
			return xdg, nil
		}
	}

	return "", fmt.Errorf("no porter.toml found: searched ./porter.toml and ~/.config/porter/porter.toml; use --config to specify a path")
}
