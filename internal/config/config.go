/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Database backend selection for the clip catalog.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// DefaultStreamBase is the public Orcasound Lab hydrophone feed.
const DefaultStreamBase = "https://s3-us-west-2.amazonaws.com/streaming-orcasound-net/rpi_orcasound_lab"

// Config covers process level configuration read from environment variables
// and, optionally, a YAML file.
type Config struct {
	Environment string `yaml:"environment"`

	// Stream and clip settings
	StreamBase      string        `yaml:"stream_base"`
	PollingInterval time.Duration `yaml:"polling_interval"`
	OutputDir       string        `yaml:"output_dir"`
	ScratchDir      string        `yaml:"scratch_dir"`
	FailedDir       string        `yaml:"failed_dir"`
	Format          string        `yaml:"format"`
	Timezone        string        `yaml:"timezone"`
	OverwriteOutput bool          `yaml:"overwrite_output"`
	QuietFFmpeg     bool          `yaml:"quiet_ffmpeg"`
	RealTime        bool          `yaml:"real_time"`
	FFmpegBin       string        `yaml:"ffmpeg_bin"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`

	// S3 configuration (folder listing and optional clip upload)
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3Region          string `yaml:"s3_region"`
	S3Endpoint        string `yaml:"s3_endpoint"` // For S3-compatible services (MinIO, etc.)
	S3UsePathStyle    bool   `yaml:"s3_use_path_style"`
	UploadBucket      string `yaml:"upload_bucket"`
	UploadPrefix      string `yaml:"upload_prefix"`

	// Observability
	MetricsBind       string  `yaml:"metrics_bind"`
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	// Clip catalog (optional, disabled when DSN is empty)
	DBBackend DatabaseBackend `yaml:"db_backend"`
	DBDSN     string          `yaml:"db_dsn"`

	// Event fan-out (each optional)
	NATSURL       string `yaml:"nats_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := fromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads environment defaults and then overlays the YAML file at path.
// Keys absent from the file keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg := fromEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Environment: getEnvAny([]string{"HYDROCLIP_ENV"}, "production"),

		StreamBase:      getEnvAny([]string{"HYDROCLIP_STREAM_BASE"}, DefaultStreamBase),
		PollingInterval: time.Duration(getEnvIntAny([]string{"HYDROCLIP_POLLING_INTERVAL_SECONDS"}, 60)) * time.Second,
		OutputDir:       getEnvAny([]string{"HYDROCLIP_OUTPUT_DIR"}, "./clips"),
		ScratchDir:      getEnvAny([]string{"HYDROCLIP_SCRATCH_DIR"}, ""),
		FailedDir:       getEnvAny([]string{"HYDROCLIP_FAILED_DIR"}, ""),
		Format:          getEnvAny([]string{"HYDROCLIP_FORMAT"}, "wav"),
		Timezone:        getEnvAny([]string{"HYDROCLIP_TIMEZONE"}, "US/Pacific"),
		OverwriteOutput: getEnvBoolAny([]string{"HYDROCLIP_OVERWRITE_OUTPUT"}, false),
		QuietFFmpeg:     getEnvBoolAny([]string{"HYDROCLIP_QUIET_FFMPEG"}, false),
		RealTime:        getEnvBoolAny([]string{"HYDROCLIP_REAL_TIME"}, false),
		FFmpegBin:       getEnvAny([]string{"HYDROCLIP_FFMPEG_BIN", "FFMPEG_BIN"}, "ffmpeg"),
		HTTPTimeout:     time.Duration(getEnvIntAny([]string{"HYDROCLIP_HTTP_TIMEOUT_SECONDS"}, 30)) * time.Second,

		S3AccessKeyID:     getEnvAny([]string{"HYDROCLIP_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"HYDROCLIP_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"HYDROCLIP_S3_REGION", "AWS_REGION"}, "us-west-2"),
		S3Endpoint:        getEnvAny([]string{"HYDROCLIP_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"HYDROCLIP_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),
		UploadBucket:      getEnvAny([]string{"HYDROCLIP_UPLOAD_BUCKET"}, ""),
		UploadPrefix:      getEnvAny([]string{"HYDROCLIP_UPLOAD_PREFIX"}, "clips"),

		MetricsBind:       getEnvAny([]string{"HYDROCLIP_METRICS_BIND"}, "127.0.0.1:9109"),
		TracingEnabled:    getEnvBoolAny([]string{"HYDROCLIP_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"HYDROCLIP_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"HYDROCLIP_TRACING_SAMPLE_RATE"}, 1.0),

		DBBackend: DatabaseBackend(getEnvAny([]string{"HYDROCLIP_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"HYDROCLIP_DB_DSN"}, ""),

		NATSURL:       getEnvAny([]string{"HYDROCLIP_NATS_URL", "NATS_URL"}, ""),
		RedisAddr:     getEnvAny([]string{"HYDROCLIP_REDIS_ADDR"}, ""),
		RedisPassword: getEnvAny([]string{"HYDROCLIP_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"HYDROCLIP_REDIS_DB"}, 0),
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StreamBase) == "" {
		return fmt.Errorf("HYDROCLIP_STREAM_BASE must be provided")
	}
	if c.PollingInterval <= 0 {
		return fmt.Errorf("polling interval must be positive, got %s", c.PollingInterval)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("HYDROCLIP_OUTPUT_DIR must be provided")
	}
	if strings.ContainsAny(c.Format, "/.\\ ") || c.Format == "" {
		return fmt.Errorf("invalid output format %q", c.Format)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.DBDSN != "" && c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be within [0, 1], got %v", c.TracingSampleRate)
	}
	return nil
}

// Location returns the label timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
