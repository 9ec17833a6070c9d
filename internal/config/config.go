// Package config loads and validates Hydrant's configuration.
//
// Configuration comes from one of two sources: a YAML mapping document on
// disk, or environment variables when no path is supplied. The loaded
// Config is immutable after Clamp.
package config

import (
	"fmt"
	"os"
	"strconv"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/hydrant/internal/errs"
	"github.com/koustreak/hydrant/internal/logger"
)

// Batch capacity bounds in bytes.
const (
	MinBatchSize     = 64 * 1024        // 64 KiB
	DefaultBatchSize = 1 * 1024 * 1024  // 1 MiB
	MaxBatchSize     = 10 * 1024 * 1024 // 10 MiB
)

// Environment variables consulted when no config file is given.
const (
	EnvDatabaseURL = "HYDRANT_DB_URL"
	EnvBatchSize   = "HYDRANT_BATCH_SIZE"
)

// DeadLetter configures the optional object-store archive for batch
// tails lost on a failed flush. When nil, losses are logged only.
type DeadLetter struct {
	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string `yaml:"endpoint"`

	// AccessKey is the access key ID (MinIO / S3 style).
	AccessKey string `yaml:"access_key"`

	// SecretKey is the secret access key.
	SecretKey string `yaml:"secret_key"`

	// Bucket receives the archived tails.
	Bucket string `yaml:"bucket"`

	// UseSSL enables TLS to the storage endpoint.
	UseSSL bool `yaml:"use_ssl"`
}

// Config holds all settings for the ingestion pipeline.
type Config struct {
	// DatabaseURL is the PostgreSQL connection descriptor.
	DatabaseURL string `yaml:"database_url"`

	// BatchSize is the batch capacity in bytes, clamped to
	// [MinBatchSize, MaxBatchSize] by Clamp.
	BatchSize int `yaml:"batch_size"`

	// MaxRetries is preserved for callers layered above the pipeline;
	// the core never retries a flushed batch.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelayMs is the base delay between retries in milliseconds.
	RetryDelayMs int `yaml:"retry_delay_ms"`

	// RequireTLS rejects connections that did not negotiate a secure
	// session.
	RequireTLS bool `yaml:"require_tls"`

	// StatusAddr, when set, serves /status, /healthz and /metrics on
	// this listen address.
	StatusAddr string `yaml:"status_addr"`

	// DeadLetter, when set, archives unshipped batch tails.
	DeadLetter *DeadLetter `yaml:"dead_letter"`
}

// defaults returns a Config with every field at its default value.
func defaults() *Config {
	return &Config{
		BatchSize:    DefaultBatchSize,
		MaxRetries:   3,
		RetryDelayMs: 100,
		RequireTLS:   true,
	}
}

// Load reads configuration from the YAML file at path, or from the
// environment when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return fromEnv()
	}
	return fromFile(path)
}

func fromEnv() (*Config, error) {
	cfg := defaults()

	if raw := os.Getenv(EnvBatchSize); raw != "" {
		size, err := strconv.Atoi(raw)
		if err == nil && size >= MinBatchSize && size <= MaxBatchSize {
			cfg.BatchSize = size
		}
	}

	cfg.DatabaseURL = os.Getenv(EnvDatabaseURL)
	if cfg.DatabaseURL == "" {
		return nil, errs.New(errs.ErrKindConfig, "no database connection string provided")
	}

	return cfg, nil
}

func fromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "failed to open config file", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "failed to parse YAML", err)
	}

	// The document root must be a mapping; scalars and sequences are
	// rejected before field extraction. Unknown keys are ignored.
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 ||
		doc.Content[0].Kind != yaml.MappingNode {
		return nil, errs.New(errs.ErrKindConfig, "invalid YAML structure: root must be a mapping")
	}

	cfg := defaults()
	if err := doc.Content[0].Decode(cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "failed to decode config fields", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, errs.New(errs.ErrKindConfig, "no database connection string provided")
	}

	return cfg, nil
}

// Clamp bounds the batch capacity to [MinBatchSize, MaxBatchSize],
// logging at WARN when a configured value is overridden.
func (c *Config) Clamp(log *logger.Logger) {
	if c.BatchSize < MinBatchSize {
		log.Warn(fmt.Sprintf("Batch size %d below minimum, using %d", c.BatchSize, MinBatchSize))
		c.BatchSize = MinBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		log.Warn(fmt.Sprintf("Batch size %d above maximum, using %d", c.BatchSize, MaxBatchSize))
		c.BatchSize = MaxBatchSize
	}
}
