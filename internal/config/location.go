package config

import (
	"os"
	"path/filepath"
)

// GetConfigPath returns the configuration file path. The OUTRIDER_CONFIG
// environment variable overrides the default location
// (~/.outrider/config).
func GetConfigPath() (string, error) {
	if configPath := os.Getenv("OUTRIDER_CONFIG"); configPath != "" {
		return configPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".outrider", "config"), nil
}
