// Package config loads the shared settings of the migration binaries from an
// optional YAML file and SONGMIGRATE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings. Command-line flags are applied on top by the
// binaries after Load.
type Config struct {
	Catalog CatalogConfig `yaml:"catalog"`
	Blob    BlobConfig    `yaml:"blob"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// CatalogConfig configures the SONG REST client.
type CatalogConfig struct {
	BaseURL     string `yaml:"base_url"`
	Token       string `yaml:"token"`
	Delay       string `yaml:"delay"`   // pause before every call
	Timeout     string `yaml:"timeout"` // per-request timeout
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"` // linear backoff unit when MaxAttempts > 1
}

// BlobConfig selects where partitions are written and read.
type BlobConfig struct {
	Driver string   `yaml:"driver"` // fs, s3, memory
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config configures the S3 blob driver.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// LedgerConfig selects the replay checkpoint backend.
type LedgerConfig struct {
	Driver      string `yaml:"driver"` // memory, sqlite, postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// MetricsConfig configures the Prometheus textfile written at the end of a run.
type MetricsConfig struct {
	File string `yaml:"file"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Catalog: CatalogConfig{
			BaseURL:     "https://song.rdpc-qa.cancercollaboratory.org",
			Delay:       "500ms",
			Timeout:     "60s",
			MaxAttempts: 1,
			Backoff:     "1s",
		},
		Blob: BlobConfig{
			Driver: "fs",
			FSRoot: ".",
			S3:     S3Config{Region: "us-east-1"},
		},
		Ledger: LedgerConfig{
			Driver:     "memory",
			SQLitePath: "song-migrate.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file; a missing file is an error since it was asked for.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"SONGMIGRATE_SONG_URL":            &c.Catalog.BaseURL,
		"SONGMIGRATE_TOKEN":               &c.Catalog.Token,
		"SONGMIGRATE_DELAY":               &c.Catalog.Delay,
		"SONGMIGRATE_TIMEOUT":             &c.Catalog.Timeout,
		"SONGMIGRATE_BLOB_DRIVER":         &c.Blob.Driver,
		"SONGMIGRATE_BLOB_FS_ROOT":        &c.Blob.FSRoot,
		"SONGMIGRATE_BLOB_S3_BUCKET":      &c.Blob.S3.Bucket,
		"SONGMIGRATE_BLOB_S3_REGION":      &c.Blob.S3.Region,
		"SONGMIGRATE_BLOB_S3_PREFIX":      &c.Blob.S3.Prefix,
		"SONGMIGRATE_BLOB_S3_ENDPOINT":    &c.Blob.S3.Endpoint,
		"SONGMIGRATE_BLOB_S3_ACCESS_KEY":  &c.Blob.S3.AccessKeyID,
		"SONGMIGRATE_BLOB_S3_SECRET_KEY":  &c.Blob.S3.SecretAccessKey,
		"SONGMIGRATE_LEDGER_DRIVER":       &c.Ledger.Driver,
		"SONGMIGRATE_LEDGER_SQLITE_PATH":  &c.Ledger.SQLitePath,
		"SONGMIGRATE_LEDGER_POSTGRES_DSN": &c.Ledger.PostgresDSN,
		"SONGMIGRATE_LOG_LEVEL":           &c.Logging.Level,
		"SONGMIGRATE_LOG_FORMAT":          &c.Logging.Format,
		"SONGMIGRATE_METRICS_FILE":        &c.Metrics.File,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("SONGMIGRATE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SONGMIGRATE_MAX_ATTEMPTS: %w", err)
		}
		c.Catalog.MaxAttempts = n
	}
	if v := os.Getenv("SONGMIGRATE_BLOB_S3_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SONGMIGRATE_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3.PathStyle = b
	}
	return nil
}

// Validate checks enumerations and durations.
func (c *Config) Validate() error {
	switch c.Blob.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("invalid blob driver %q (valid: fs, s3, memory)", c.Blob.Driver)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("blob driver s3 requires a bucket")
	}
	switch c.Ledger.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid ledger driver %q (valid: memory, sqlite, postgres)", c.Ledger.Driver)
	}
	if c.Ledger.Driver == "postgres" && c.Ledger.PostgresDSN == "" {
		return fmt.Errorf("ledger driver postgres requires a dsn")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format %q (valid: console, json)", c.Logging.Format)
	}
	if c.Catalog.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.Catalog.MaxAttempts)
	}
	for name, v := range map[string]string{"delay": c.Catalog.Delay, "timeout": c.Catalog.Timeout, "backoff": c.Catalog.Backoff} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("catalog %s: %w", name, err)
		}
	}
	return nil
}

// DelayDuration returns the pause before each catalog call.
func (c *Config) DelayDuration() time.Duration {
	d, err := parseDuration(c.Catalog.Delay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// TimeoutDuration returns the per-request timeout.
func (c *Config) TimeoutDuration() time.Duration {
	d, err := parseDuration(c.Catalog.Timeout)
	if err != nil || d == 0 {
		return 60 * time.Second
	}
	return d
}

// BackoffDuration returns the retry backoff unit.
func (c *Config) BackoffDuration() time.Duration {
	d, err := parseDuration(c.Catalog.Backoff)
	if err != nil {
		return time.Second
	}
	return d
}

func parseDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", v)
	}
	return d, nil
}
