package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervised sync process, retention and metrics export",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("serve")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()
		return a.Serve(ctx)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Keep the index in step with the report directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")

		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if dir != "" {
			cfg.ReportDir = dir
		}

		a, err := newAppFromConfig(cfg, path, "sync")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()
		return a.Sync(ctx)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Downsample old reports to daily and weekly resolution",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp("cleanup")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Cleanup(dryRun)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}

		verb := "Deleted"
		if result.DryRun {
			verb = "Would delete"
		}
		fmt.Printf("%s %d report(s), retained %d, freed %s\n",
			verb, result.Deleted, result.Retained, humanize.Bytes(uint64(result.Freed)))
		if result.Kept > 0 {
			fmt.Printf("Kept %d report(s) that could not be archived\n", result.Kept)
		}
		if len(result.Purged) > 0 {
			fmt.Printf("Removed %d empty director(ies)\n", len(result.Purged))
		}
		return nil
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the report index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Reconcile the index with the report directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("index")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Rebuild()
		if err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
		fmt.Printf("Indexed %d report(s), skipped %d, evicted %d\n", result.Indexed, result.Skipped, result.Evicted)
		return nil
	},
}

var indexSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the SQL schema of the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("index")
		if err != nil {
			return err
		}
		defer a.Close()

		schema, err := a.IndexSchema()
		if err != nil {
			return err
		}
		fmt.Print(schema)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("dir", "", "Report directory to watch (default report_dir)")
	cleanupCmd.Flags().Bool("dry-run", false, "Report what would be deleted without deleting")

	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexSchemaCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(indexCmd)
}
