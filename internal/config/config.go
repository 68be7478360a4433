// Package config loads transitsql settings from an optional YAML file with
// environment overrides. Command-line flags override both and are applied
// by each command after Load.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the ingest, catalogd and mcp commands.
// Environment variables always override YAML values. Secrets (store
// passwords, DD_API_KEY) belong in the environment, not the YAML file.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Catalog CatalogConfig `yaml:"catalog"`
	Metrics MetricsConfig `yaml:"metrics"`

	Verbose bool `yaml:"verbose" env:"TRANSITSQL_VERBOSE" env-default:"false"`
}

// StoreConfig selects the relational store written by ingestion.
type StoreConfig struct {
	// Kind is a registered storage backend: sqlite, postgres, sqlserver, mysql.
	Kind string `yaml:"kind" env:"TRANSITSQL_STORE_KIND" env-default:"sqlite"`
	// DSN is a file path for sqlite, a connection string otherwise. Empty
	// means vehicles.db next to the input.
	DSN string `yaml:"dsn" env:"TRANSITSQL_STORE_DSN" env-default:""`
	// Schema qualifies tables on postgres and sqlserver.
	Schema string `yaml:"schema" env:"TRANSITSQL_STORE_SCHEMA" env-default:""`
	// BatchRows overrides rows per INSERT (0 = backend default).
	BatchRows int `yaml:"batch_rows" env:"TRANSITSQL_STORE_BATCH_ROWS" env-default:"0"`
}

// IngestConfig controls an ingestion run.
type IngestConfig struct {
	KeepGoing bool `yaml:"keep_going" env:"TRANSITSQL_KEEP_GOING" env-default:"false"`
	CheckGTFS bool `yaml:"check_gtfs" env:"TRANSITSQL_CHECK_GTFS" env-default:"false"`

	// Watch re-runs ingestion when the input changes.
	Watch    bool          `yaml:"watch" env:"TRANSITSQL_WATCH" env-default:"false"`
	Debounce time.Duration `yaml:"debounce" env:"TRANSITSQL_WATCH_DEBOUNCE" env-default:"2s"`
	// Schedule is a cron expression ("@every 1h", "0 3 * * *") for re-runs.
	Schedule string `yaml:"schedule" env:"TRANSITSQL_SCHEDULE" env-default:""`

	// Mapping lists table -> file for directory inputs with a fixed layout
	// (fleet telemetry exports). Missing files are skipped.
	Mapping map[string]string `yaml:"mapping" env:"TRANSITSQL_MAPPING"`
}

// CatalogConfig configures the read-only query surfaces.
type CatalogConfig struct {
	DB           string        `yaml:"db" env:"TRANSITSQL_CATALOG_DB" env-default:"vehicles.db"`
	Addr         string        `yaml:"addr" env:"TRANSITSQL_CATALOG_ADDR" env-default:":8080"`
	MaxRows      int           `yaml:"max_rows" env:"TRANSITSQL_CATALOG_MAX_ROWS" env-default:"1000"`
	SampleRows   int           `yaml:"sample_rows" env:"TRANSITSQL_CATALOG_SAMPLE_ROWS" env-default:"5"`
	QueryTimeout time.Duration `yaml:"query_timeout" env:"TRANSITSQL_CATALOG_QUERY_TIMEOUT" env-default:"30s"`
	PromptsDir   string        `yaml:"prompts_dir" env:"TRANSITSQL_PROMPTS_DIR" env-default:"modular_prompt"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Backend is "none" or "datadog".
	Backend    string        `yaml:"backend" env:"TRANSITSQL_METRICS_BACKEND" env-default:"none"`
	JobName    string        `yaml:"job_name" env:"TRANSITSQL_METRICS_JOB" env-default:"transitsql"`
	Tags       string        `yaml:"tags" env:"TRANSITSQL_METRICS_TAGS" env-default:""`
	FlushEvery time.Duration `yaml:"flush_every" env:"TRANSITSQL_METRICS_FLUSH_EVERY" env-default:"60s"`
}

// Load reads path (YAML) when non-empty, then applies environment overrides
// and defaults. With an empty path only the environment is consulted.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	c.Store.Kind = strings.ToLower(strings.TrimSpace(c.Store.Kind))
	c.Metrics.Backend = strings.ToLower(strings.TrimSpace(c.Metrics.Backend))

	if c.Store.Kind == "" {
		return fmt.Errorf("store.kind is empty")
	}
	if c.Store.BatchRows < 0 {
		return fmt.Errorf("store.batch_rows must be >= 0, got %d", c.Store.BatchRows)
	}
	if c.Ingest.Watch && c.Ingest.Debounce <= 0 {
		return fmt.Errorf("ingest.debounce must be positive when watching")
	}
	if c.Catalog.MaxRows <= 0 {
		return fmt.Errorf("catalog.max_rows must be positive, got %d", c.Catalog.MaxRows)
	}
	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		return fmt.Errorf("metrics.backend must be none or datadog, got %q", c.Metrics.Backend)
	}
	return nil
}

// Usage returns the environment variable help text, for -h output.
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
