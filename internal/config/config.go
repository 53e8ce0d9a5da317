package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// SmartPiXL Forge - Configuration with Environment Overrides
// =============================================================================

// Config is the top-level configuration for the Forge process. Every
// field has a documented default; the keys listed in applyEnvOverrides
// can also be overridden by an environment variable after the YAML file
// is loaded.
type Config struct {
	Transport   TransportConfig   `yaml:"transport"`
	Failover    FailoverConfig    `yaml:"failover"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Writer      WriterConfig      `yaml:"writer"`
	ETL         ETLConfig         `yaml:"etl"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Edge        EdgeConfig        `yaml:"edge"`
	Database    DatabaseConfig    `yaml:"database"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	GeoAPI      GeoAPIConfig      `yaml:"geo_api"`
}

// TransportConfig covers the Transport Listener (A).
type TransportConfig struct {
	PipeName                   string `yaml:"pipe_name"`
	PipeChannelCapacity        int    `yaml:"pipe_channel_capacity"`
	MaxConcurrentPipeInstances int    `yaml:"max_concurrent_pipe_instances"`
}

// FailoverConfig covers the Failover Replayer (B).
type FailoverConfig struct {
	Directory          string `yaml:"directory"`
	ScanIntervalSeconds int   `yaml:"scan_interval_seconds"`
}

// PipelineConfig covers the Enrichment Pipeline (C).
type PipelineConfig struct {
	EnableEnrichments   bool `yaml:"enable_enrichments"`
	Workers             int  `yaml:"workers"`
	MaxQueryStringLen   int  `yaml:"max_query_string_len"`
	DrainTimeoutSeconds int  `yaml:"drain_timeout_seconds"`
}

// WriterConfig covers the Bulk Writer (F).
type WriterConfig struct {
	ChannelCapacity       int    `yaml:"channel_capacity"`
	BatchSize             int    `yaml:"batch_size"`
	BatchIntervalMs       int    `yaml:"batch_interval_ms"`
	BulkCopyTimeoutSeconds int   `yaml:"bulk_copy_timeout_seconds"`
	ShutdownTimeoutSeconds int   `yaml:"shutdown_timeout_seconds"`
	DeadLetterDir         string `yaml:"dead_letter_dir"`
}

// ETLConfig covers the ETL Scheduler (G).
type ETLConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// MaintenanceConfig covers the Maintenance Scheduler (I).
type MaintenanceConfig struct {
	PurgeHourUTC            int `yaml:"purge_hour_utc"`
	IndexMaintenanceHourUTC int `yaml:"index_maintenance_hour_utc"`
	PurgeRetentionDays      int `yaml:"purge_retention_days"`
	PurgeBatchSize          int `yaml:"purge_batch_size"`
}

// EdgeConfig covers the Edge Health Client (H).
type EdgeConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DatabaseConfig is the relational store connection.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	GeoDBDirectory  string `yaml:"geo_db_directory"`
}

// MetricsConfig covers the Metrics Registry (J).
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// GeoAPIConfig covers the external geo API rate limit and cache TTL.
type GeoAPIConfig struct {
	Enabled           bool   `yaml:"enabled"`
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	MinIntervalMs     int    `yaml:"min_interval_ms"`
	KnownIPTTLDays    int    `yaml:"known_ip_ttl_days"`
}

// Default returns the documented defaults from spec.md §6.5.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			PipeName:                   "SmartPiXL-Enrichment",
			PipeChannelCapacity:        50000,
			MaxConcurrentPipeInstances: 4,
		},
		Failover: FailoverConfig{
			Directory:           "failover",
			ScanIntervalSeconds: 60,
		},
		Pipeline: PipelineConfig{
			EnableEnrichments:   true,
			Workers:             1,
			MaxQueryStringLen:   32 * 1024,
			DrainTimeoutSeconds: 5,
		},
		Writer: WriterConfig{
			ChannelCapacity:        10000,
			BatchSize:              100,
			BatchIntervalMs:        500,
			BulkCopyTimeoutSeconds: 60,
			ShutdownTimeoutSeconds: 30,
			DeadLetterDir:          "failover",
		},
		ETL: ETLConfig{
			IntervalSeconds: 60,
		},
		Maintenance: MaintenanceConfig{
			PurgeHourUTC:            3,
			IndexMaintenanceHourUTC: 4,
			PurgeRetentionDays:      90,
			PurgeBatchSize:          10000,
		},
		Edge: EdgeConfig{
			BaseURL:        "http://127.0.0.1:6000",
			TimeoutSeconds: 5,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
		GeoAPI: GeoAPIConfig{
			Enabled:        false,
			MinIntervalMs:  2100,
			KnownIPTTLDays: 90,
		},
	}
}

// =============================================================================
// Singleton pattern with environment overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton config, loading it from
// CONFIG_PATH (default "config.yaml") on first use. A missing file is a
// warning, not a fatal error — the Forge must be able to start on a
// fresh machine before config is staged. A file that is present but
// cannot be read or decoded is logged and exits the process.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Error("config: failed to load file", "error", err)
				os.Exit(1)
			}
			slog.Warn("config: file not found, using defaults", "error", err)
			cfg = Default()
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file, starting from the documented
// defaults so a partial file only overrides the keys it sets.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: malformed yaml at %s: %w", path, err)
	}

	return cfg, nil
}

// applyEnvOverrides applies the environment variable overrides named in
// spec.md §6.5.
func (c *Config) applyEnvOverrides() {
	c.Transport.PipeName = getEnv("PipeName", c.Transport.PipeName)
	c.Transport.PipeChannelCapacity = getEnvInt("PipeChannelCapacity", c.Transport.PipeChannelCapacity)
	c.Transport.MaxConcurrentPipeInstances = getEnvInt("MaxConcurrentPipeInstances", c.Transport.MaxConcurrentPipeInstances)

	c.Failover.Directory = getEnv("FailoverDirectory", c.Failover.Directory)
	c.Failover.ScanIntervalSeconds = getEnvInt("FailoverScanIntervalSeconds", c.Failover.ScanIntervalSeconds)

	c.Pipeline.EnableEnrichments = getEnvBool("EnableEnrichments", c.Pipeline.EnableEnrichments)

	c.Writer.ChannelCapacity = getEnvInt("SqlWriterChannelCapacity", c.Writer.ChannelCapacity)
	c.Writer.BatchSize = getEnvInt("BatchSize", c.Writer.BatchSize)
	c.Writer.BulkCopyTimeoutSeconds = getEnvInt("BulkCopyTimeoutSeconds", c.Writer.BulkCopyTimeoutSeconds)
	c.Writer.ShutdownTimeoutSeconds = getEnvInt("ShutdownTimeoutSeconds", c.Writer.ShutdownTimeoutSeconds)

	c.ETL.IntervalSeconds = getEnvInt("EtlIntervalSeconds", c.ETL.IntervalSeconds)

	c.Maintenance.PurgeHourUTC = getEnvInt("PurgeHourUtc", c.Maintenance.PurgeHourUTC)
	c.Maintenance.IndexMaintenanceHourUTC = getEnvInt("IndexMaintenanceHourUtc", c.Maintenance.IndexMaintenanceHourUTC)

	c.Edge.BaseURL = getEnv("EdgeBaseUrl", c.Edge.BaseURL)

	c.Database.DSN = getEnv("SMARTPIXL_DB_DSN", c.Database.DSN)
	c.Database.GeoDBDirectory = getEnv("SMARTPIXL_GEO_DB_DIR", c.Database.GeoDBDirectory)

	c.GeoAPI.APIKey = getEnv("SMARTPIXL_GEO_API_KEY", c.GeoAPI.APIKey)
	c.GeoAPI.BaseURL = getEnv("SMARTPIXL_GEO_API_URL", c.GeoAPI.BaseURL)
}

// Validate returns a ConfigError-worthy error for semantically invalid
// values. Called once at startup; a non-nil return is fatal.
func (c *Config) Validate() error {
	if c.Transport.PipeChannelCapacity <= 0 {
		return fmt.Errorf("config: transport.pipe_channel_capacity must be positive")
	}
	if c.Writer.ChannelCapacity <= 0 {
		return fmt.Errorf("config: writer.channel_capacity must be positive")
	}
	if c.Writer.BatchSize <= 0 {
		return fmt.Errorf("config: writer.batch_size must be positive")
	}
	if c.Maintenance.PurgeHourUTC < 0 || c.Maintenance.PurgeHourUTC > 23 {
		return fmt.Errorf("config: maintenance.purge_hour_utc must be 0-23")
	}
	if c.Maintenance.IndexMaintenanceHourUTC < 0 || c.Maintenance.IndexMaintenanceHourUTC > 23 {
		return fmt.Errorf("config: maintenance.index_maintenance_hour_utc must be 0-23")
	}
	return nil
}

// =============================================================================
// Helper functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
