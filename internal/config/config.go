package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for lightmon.
type Config struct {
	InstanceID            string          `toml:"instance_id" yaml:"instance_id"`
	BaseDir               string          `toml:"base_dir" yaml:"base_dir"`
	LogDir                string          `toml:"log_dir" yaml:"log_dir"`
	ReportDir             string          `toml:"report_dir" yaml:"report_dir"`
	ExpectedLastReportSec int             `toml:"expected_last_report_sec" yaml:"expected_last_report_sec"`
	Index                 IndexConfig     `toml:"index" yaml:"index"`
	Sync                  SyncConfig      `toml:"sync" yaml:"sync"`
	Retention             RetentionConfig `toml:"retention" yaml:"retention"`
	Metrics               MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Archive               ArchiveConfig   `toml:"archive" yaml:"archive"`
}

// IndexConfig represents configuration for the report index.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type IndexConfig struct {
	// "sqlite", "memory" or "none"
	Type string `toml:"type" yaml:"type"`
	// only used for type=sqlite
	DataDir string `toml:"data_dir,omitempty" yaml:"data_dir,omitempty"`
}

// SyncConfig controls the process keeping the index in step with the store.
type SyncConfig struct {
	// "goroutine" or "process"
	Mode           string `toml:"mode" yaml:"mode"`
	MaxRestarts    int    `toml:"max_restarts" yaml:"max_restarts"`
	StableAfterSec int    `toml:"stable_after_sec" yaml:"stable_after_sec"`
	// 0 = filesystem events
	PollIntervalSec      int      `toml:"poll_interval_sec" yaml:"poll_interval_sec"`
	ReconcileIntervalSec int      `toml:"reconcile_interval_sec" yaml:"reconcile_interval_sec"`
	Ignore               []string `toml:"ignore" yaml:"ignore"`
}

// RetentionConfig controls downsampling of old reports.
type RetentionConfig struct {
	RetainDailyDays  int    `toml:"retain_daily_days" yaml:"retain_daily_days"`
	RetainWeeklyDays int    `toml:"retain_weekly_days" yaml:"retain_weekly_days"`
	DryRun           bool   `toml:"dry_run" yaml:"dry_run"`
	WeekStart        string `toml:"week_start" yaml:"week_start"`
	IntervalSec      int    `toml:"interval_sec" yaml:"interval_sec"`
}

// MetricsConfig selects where index metrics are exported.
type MetricsConfig struct {
	Textfile       string `toml:"textfile,omitempty" yaml:"textfile,omitempty"`
	JSONFile       string `toml:"json_file,omitempty" yaml:"json_file,omitempty"`
	PushgatewayURL string `toml:"pushgateway_url,omitempty" yaml:"pushgateway_url,omitempty"`
	IntervalSec    int    `toml:"interval_sec" yaml:"interval_sec"`
}

// ArchiveConfig represents configuration for the archive of pruned reports.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	// "none", "memory", "filesystem" or "s3"
	Type string `toml:"type" yaml:"type"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty" yaml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty"`
	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty" yaml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" yaml:"s3_secret_access_key,omitempty"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" yaml:"fs_root,omitempty"`

	Encryption EncryptionConfig `toml:"encryption" yaml:"encryption"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt archives.
type EncryptionConfig struct {
	// "none" (default), "age" or "test"
	Type           string `toml:"type" yaml:"type"`
	PublicKeyPath  string `toml:"public_key_path,omitempty" yaml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`
}

// DefaultExpectedLastReportSec is 25 hours: a daily audit plus slack.
const DefaultExpectedLastReportSec = 90000

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(instanceID, baseDir string) *Config {
	cfg := &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		ReportDir:  filepath.Join(baseDir, "reports"),
		Index:      IndexConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "index")},
		Archive: ArchiveConfig{
			Type: "none",
			Encryption: EncryptionConfig{
				Type:           "none",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "lightmon.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "lightmon.key"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.ExpectedLastReportSec == 0 {
		c.ExpectedLastReportSec = DefaultExpectedLastReportSec
	}
	if c.Index.Type == "" {
		c.Index.Type = "sqlite"
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = "goroutine"
	}
	if c.Sync.MaxRestarts == 0 {
		c.Sync.MaxRestarts = 3
	}
	if c.Sync.StableAfterSec == 0 {
		c.Sync.StableAfterSec = 60
	}
	if c.Sync.ReconcileIntervalSec == 0 {
		c.Sync.ReconcileIntervalSec = 3600
	}
	if c.Retention.WeekStart == "" {
		c.Retention.WeekStart = "sunday"
	}
	if c.Metrics.IntervalSec == 0 {
		c.Metrics.IntervalSec = 60
	}
	if c.Archive.Type == "" {
		c.Archive.Type = "none"
	}
	if c.Archive.Encryption.Type == "" {
		c.Archive.Encryption.Type = "none"
	}
}

// Validate checks the tagged unions and required fields.
func (c *Config) Validate() error {
	if c.ReportDir == "" {
		return fmt.Errorf("report_dir is required")
	}
	switch c.Index.Type {
	case "sqlite", "memory", "none":
	default:
		return fmt.Errorf("unknown index type: %s", c.Index.Type)
	}
	switch c.Sync.Mode {
	case "goroutine", "process":
	default:
		return fmt.Errorf("unknown sync mode: %s", c.Sync.Mode)
	}
	if c.Sync.MaxRestarts < 0 {
		return fmt.Errorf("sync.max_restarts must not be negative")
	}
	if _, err := c.Retention.Weekday(); err != nil {
		return err
	}
	switch c.Archive.Type {
	case "none", "memory", "filesystem", "s3":
	default:
		return fmt.Errorf("unknown archive type: %s", c.Archive.Type)
	}
	switch c.Archive.Encryption.Type {
	case "none", "age", "test":
	default:
		return fmt.Errorf("unknown encryption type: %s", c.Archive.Encryption.Type)
	}
	return nil
}

// ExpectedLastReport is the interval within which a new report must appear
// for the instance to count as healthy.
func (c *Config) ExpectedLastReport() time.Duration {
	return time.Duration(c.ExpectedLastReportSec) * time.Second
}

// Weekday parses WeekStart. An empty value means Sunday.
func (r RetentionConfig) Weekday() (time.Weekday, error) {
	if r.WeekStart == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if strings.EqualFold(r.WeekStart, name) || strings.EqualFold(r.WeekStart, name[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown week_start: %s", r.WeekStart)
}

// Format is the encoding of a config file.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from the file extension. Anything but
// .yaml and .yml is TOML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Manager handles reading and writing configuration.
type Manager struct {
	Format Format
}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	switch m.Format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	switch m.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	default:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file at path. It refuses to overwrite.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
