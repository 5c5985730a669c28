package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"lightmon/internal/lightmon"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	return tbl
}

// age renders a report date relative to now, or the raw date if it does
// not parse.
func age(date string) string {
	t, err := lightmon.ParseDate(date)
	if err != nil {
		return date
	}
	return humanize.Time(t)
}

// reports command
var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Query indexed reports",
}

var reportsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List indexed reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")

		a, err := newApp("reports")
		if err != nil {
			return err
		}
		defer a.Close()

		all, err := a.Reports().WithoutInternals()
		if err != nil {
			return err
		}

		tbl := newTable()
		tbl.AppendHeader(table.Row{"ID", "URL", "Name", "Preset", "Date", "Age"})
		count := 0
		for _, r := range all {
			if url != "" && r.URL != url {
				continue
			}
			tbl.AppendRow(table.Row{r.ID, r.URL, r.Name, r.Preset, r.Date, age(r.Date)})
			count++
		}
		if count == 0 {
			fmt.Println("No reports indexed.")
			return nil
		}
		tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", count)})
		tbl.Render()
		return nil
	},
}

var reportsURLsCmd = &cobra.Command{
	Use:   "urls",
	Short: "List audited urls",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("reports")
		if err != nil {
			return err
		}
		defer a.Close()

		urls, err := a.Reports().UniqueURLs()
		if err != nil {
			return err
		}
		for _, u := range urls {
			fmt.Println(u)
		}
		return nil
	},
}

var reportsPresetsCmd = &cobra.Command{
	Use:   "presets URL",
	Short: "List presets audited for a url",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("reports")
		if err != nil {
			return err
		}
		defer a.Close()

		presets, err := a.Reports().PresetsForURL(args[0])
		if err != nil {
			return err
		}
		for _, p := range presets {
			fmt.Println(p)
		}
		return nil
	},
}

var reportsDatesCmd = &cobra.Command{
	Use:   "dates URL PRESET",
	Short: "List report dates for a url and preset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("reports")
		if err != nil {
			return err
		}
		defer a.Close()

		dates, err := a.Reports().DatesForURLAndPreset(args[0], args[1])
		if err != nil {
			return err
		}
		if len(dates) == 0 {
			fmt.Println("No reports found.")
			return nil
		}

		tbl := newTable()
		tbl.AppendHeader(table.Row{"Date", "Age", "ID"})
		for _, d := range dates {
			tbl.AppendRow(table.Row{d.Date, age(d.Date), d.ID})
		}
		tbl.Render()
		return nil
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("reports")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Reports().Single(args[0])
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("report %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r.WithoutInternals())
	},
}

// healthz command
var healthzCmd = &cobra.Command{
	Use:   "healthz",
	Short: "Exit non-zero when no recent report exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newAppFromConfig(cfg, path, "healthz")
		if err != nil {
			return err
		}
		defer a.Close()

		healthy, err := a.Healthy()
		if err != nil {
			return err
		}
		if !healthy {
			return fmt.Errorf("unhealthy: no report within the last %s", cfg.ExpectedLastReport())
		}
		fmt.Println("ok")
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		tbl := newTable()
		tbl.AppendHeader(table.Row{"#", "Operation", "Started", "Status", "Duration", "Parameters"})
		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			tbl.AppendRow(table.Row{
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			})
		}
		tbl.Render()
		return nil
	},
}

// metrics command
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Export index metrics",
}

var metricsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write metrics to the configured targets once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("metrics")
		if err != nil {
			return err
		}
		defer a.Close()

		digest, err := a.ExportMetrics(cmd.Context())
		if err != nil {
			return fmt.Errorf("exporting metrics: %w", err)
		}

		tbl := newTable()
		tbl.AppendHeader(table.Row{"URL", "Preset", "Reports", "Latest"})
		for _, e := range digest.Reports {
			tbl.AppendRow(table.Row{e.URL, e.Preset, e.Count, age(e.Latest)})
		}
		tbl.Render()
		return nil
	},
}

func init() {
	reportsLsCmd.Flags().String("url", "", "Only list reports for this url")

	reportsCmd.AddCommand(reportsLsCmd)
	reportsCmd.AddCommand(reportsURLsCmd)
	reportsCmd.AddCommand(reportsPresetsCmd)
	reportsCmd.AddCommand(reportsDatesCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	metricsCmd.AddCommand(metricsExportCmd)

	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(healthzCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(metricsCmd)
}
