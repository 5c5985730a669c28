package app

import (
	"fmt"
	"os"
	"path/filepath"

	"lightmon/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - LIGHTMON_CONFIG_PATH: config file location (default: ~/.config/lightmon.toml)
//   - LIGHTMON_HOME: base directory for lightmon data (default: ~/.local/share/lightmon)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// ApplyEnvOverrides lets container deployments relocate the store and the
// index without editing the config file. REPORT_DIR replaces report_dir and
// CACHE_DIR replaces index.data_dir.
func ApplyEnvOverrides(cfg *config.Config) {
	if dir := os.Getenv("REPORT_DIR"); dir != "" {
		cfg.ReportDir = dir
	}
	if dir := os.Getenv("CACHE_DIR"); dir != "" {
		cfg.Index.DataDir = dir
	}
}

// getConfigPath returns the config file path, checking LIGHTMON_CONFIG_PATH env var first,
// then falling back to the default ~/.config/lightmon.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("LIGHTMON_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "lightmon.toml"), nil
}

// getBaseDir returns the base directory for lightmon data, checking LIGHTMON_HOME env var first,
// then falling back to the XDG default ~/.local/share/lightmon.
func getBaseDir() (string, error) {
	if path := os.Getenv("LIGHTMON_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "lightmon"), nil
}
