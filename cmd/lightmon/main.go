package main

import (
	"fmt"
	"os"

	"lightmon/internal/app"
	"lightmon/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configPath returns the --config flag or the default location.
func configPath() (string, error) {
	if path, _ := rootCmd.PersistentFlags().GetString("config"); path != "" {
		return path, nil
	}
	defaults, err := app.GetDefaults()
	if err != nil {
		return "", fmt.Errorf("getting defaults: %w", err)
	}
	return defaults["config_path"], nil
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	app.ApplyEnvOverrides(cfg)
	return cfg, path, nil
}

// newApp reads the config and creates a LightmonApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "serve", "cleanup").
func newApp(operation string) (*app.LightmonApp, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(cfg, path, operation)
}

func newAppFromConfig(cfg *config.Config, path, operation string) (*app.LightmonApp, error) {
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	a, err := app.NewLightmonApp(cfg, operation, app.Options{
		Verbose:    verbose,
		ConfigPath: path,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "lightmon",
	Short:         "Index and retention for audit reports",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		path, err := configPath()
		if err != nil {
			return err
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Report Dir:  %s\n", cfg.ReportDir)
		fmt.Printf("Index:       %s %s\n", cfg.Index.Type, cfg.Index.DataDir)
		fmt.Printf("Sync:        %s (max restarts %d)\n", cfg.Sync.Mode, cfg.Sync.MaxRestarts)
		fmt.Printf("Retention:   daily after %dd, weekly after %dd, dry run %t\n",
			cfg.Retention.RetainDailyDays, cfg.Retention.RetainWeeklyDays, cfg.Retention.DryRun)
		fmt.Printf("Archive:     %s (encryption %s)\n", cfg.Archive.Type, cfg.Archive.Encryption.Type)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $LIGHTMON_CONFIG_PATH or ~/.config/lightmon.toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}
