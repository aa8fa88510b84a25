package config

import (
	"os"
	"path/filepath"
)

// GetConfigPath returns the configuration file path. GUESTJS_CONFIG wins over
// the default location (~/.guestjs/config).
func GetConfigPath() (string, error) {
	if configPath := os.Getenv("GUESTJS_CONFIG"); configPath != "" {
		return configPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".guestjs", "config"), nil
}

// EnsureConfigDir ensures that the configuration directory exists.
func EnsureConfigDir() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	return os.MkdirAll(filepath.Dir(configPath), 0755)
}
