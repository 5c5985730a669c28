// Package metrics exports index-derived gauges in the Prometheus
// exposition format, as a JSON digest, and to a push gateway.
package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"lightmon/internal/config"
	"lightmon/internal/lightmon"
	"lightmon/internal/store"
)

// JobName is the push gateway job label.
const JobName = "lightmon"

// Entry summarises the reports of one url and preset.
type Entry struct {
	URL    string `json:"url"`
	Preset string `json:"preset"`
	Count  int    `json:"count"`
	Latest string `json:"latest"`
}

// Digest is the JSON document written to the json_file target.
type Digest struct {
	Timestamp string  `json:"timestamp"`
	Reports   []Entry `json:"reports"`
}

// Exporter owns a private registry so several exporters can coexist in
// one process.
type Exporter struct {
	index  lightmon.Index
	logger lightmon.Logger
	clock  lightmon.Clock

	registry         *prometheus.Registry
	reports          *prometheus.GaugeVec
	lastReport       *prometheus.GaugeVec
	retentionDeleted prometheus.Counter
	syncRestarts     prometheus.Counter
}

// NewExporter creates an exporter reading from index.
func NewExporter(index lightmon.Index, logger lightmon.Logger, clock lightmon.Clock) *Exporter {
	e := &Exporter{
		index:    index,
		logger:   logger,
		clock:    clock,
		registry: prometheus.NewRegistry(),
		reports: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lightmon_reports",
			Help: "Number of indexed reports per url and preset.",
		}, []string{"url", "preset"}),
		lastReport: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lightmon_last_report_timestamp_seconds",
			Help: "Run start of the newest indexed report per url and preset.",
		}, []string{"url", "preset"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightmon_retention_deleted_total",
			Help: "Reports deleted by retention passes.",
		}),
		syncRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightmon_sync_restarts_total",
			Help: "Restarts of the sync process after a crash.",
		}),
	}
	e.registry.MustRegister(e.reports, e.lastReport, e.retentionDeleted, e.syncRestarts)
	return e
}

// Registry returns the registry holding the exporter's collectors.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// RecordRetention adds the deletions of a retention run.
func (e *Exporter) RecordRetention(result *lightmon.RetentionResult) {
	if result == nil {
		return
	}
	e.retentionDeleted.Add(float64(result.Deleted))
}

// RecordRestart counts one sync process restart.
func (e *Exporter) RecordRestart() {
	e.syncRestarts.Inc()
}

// Collect refreshes the gauges from the index and returns the digest.
func (e *Exporter) Collect() (*Digest, error) {
	all, err := e.index.All()
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	type key struct{ url, preset string }
	entries := make(map[key]*Entry)
	for _, r := range all {
		k := key{r.URL, r.Preset}
		entry, ok := entries[k]
		if !ok {
			entry = &Entry{URL: r.URL, Preset: r.Preset}
			entries[k] = entry
		}
		entry.Count++
		if r.Date > entry.Latest {
			entry.Latest = r.Date
		}
	}

	digest := &Digest{
		Timestamp: lightmon.FormatDate(e.clock.Now()),
		Reports:   make([]Entry, 0, len(entries)),
	}

	e.reports.Reset()
	e.lastReport.Reset()
	for _, entry := range entries {
		digest.Reports = append(digest.Reports, *entry)
		e.reports.WithLabelValues(entry.URL, entry.Preset).Set(float64(entry.Count))
		latest, err := lightmon.ParseDate(entry.Latest)
		if err != nil {
			e.logger.Warn("skipping unparsable report date", "url", entry.URL, "preset", entry.Preset, "date", entry.Latest)
			continue
		}
		e.lastReport.WithLabelValues(entry.URL, entry.Preset).Set(float64(latest.Unix()))
	}

	sort.Slice(digest.Reports, func(i, j int) bool {
		a, b := digest.Reports[i], digest.Reports[j]
		if a.URL != b.URL {
			return a.URL < b.URL
		}
		return a.Preset < b.Preset
	})
	return digest, nil
}

// WriteTextfile writes the exposition format for the node exporter's
// textfile collector.
func (e *Exporter) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// WriteJSON writes the digest atomically.
func (e *Exporter) WriteJSON(path string, digest *Digest) error {
	data, err := json.MarshalIndent(digest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding digest: %w", err)
	}
	data = append(data, '\n')
	if err := store.WriteAtomic(path, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("writing metrics json: %w", err)
	}
	return nil
}

// Push sends the registry to a push gateway under JobName.
func (e *Exporter) Push(ctx context.Context, url string) error {
	if err := push.New(url, JobName).Gatherer(e.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}

// Export collects once and writes to every configured target. A failing
// target is logged and does not stop the others; the first error is
// returned.
func (e *Exporter) Export(ctx context.Context, cfg config.MetricsConfig) (*Digest, error) {
	digest, err := e.Collect()
	if err != nil {
		return nil, err
	}

	var first error
	keep := func(err error) {
		if err == nil {
			return
		}
		e.logger.Warn("metrics export failed", "error", err)
		if first == nil {
			first = err
		}
	}

	if cfg.Textfile != "" {
		keep(e.WriteTextfile(cfg.Textfile))
	}
	if cfg.JSONFile != "" {
		keep(e.WriteJSON(cfg.JSONFile, digest))
	}
	if cfg.PushgatewayURL != "" {
		keep(e.Push(ctx, cfg.PushgatewayURL))
	}
	e.logger.Debug("metrics exported", "series", len(digest.Reports))
	return digest, first
}

// Enabled reports whether cfg names any export target.
func Enabled(cfg config.MetricsConfig) bool {
	return cfg.Textfile != "" || cfg.JSONFile != "" || cfg.PushgatewayURL != ""
}

// Run exports every cfg.IntervalSec seconds until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context, cfg config.MetricsConfig) {
	interval := time.Duration(cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = e.Export(ctx, cfg)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
