package config

import (
	"os"
	"path/filepath"
)

// DefaultPath returns the default config file location based on the host
// OS. It prefers standard locations when available and falls back to a
// dotfile in the user's home directory. The file does not have to exist.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "weft", "config.yaml")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./weft.yaml"
	}
	if isDir(filepath.Join(homeDir, ".config")) {
		return filepath.Join(homeDir, ".config", "weft", "config.yaml")
	}
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "Weft", "config.yaml")
	}
	return filepath.Join(homeDir, ".weft.yaml")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
