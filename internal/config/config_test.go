package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/hydrant/internal/errs"
	"github.com/koustreak/hydrant/internal/logger"
)

func TestLoad_Env(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "postgres://ingest:secret@db:5432/hydrant")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://ingest:secret@db:5432/hydrant", cfg.DatabaseURL)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100, cfg.RetryDelayMs)
	assert.True(t, cfg.RequireTLS)
}

func TestLoad_EnvMissingURL(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrKindConfig))
	assert.Contains(t, err.Error(), "no database connection string provided")
}

func TestLoad_EnvBatchSize(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"within bounds", "131072", 131072},
		{"below minimum ignored", "32768", DefaultBatchSize},
		{"above maximum ignored", "33554432", DefaultBatchSize},
		{"not a number ignored", "lots", DefaultBatchSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDatabaseURL, "postgres://db")
			t.Setenv(EnvBatchSize, tt.value)

			cfg, err := Load("")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.BatchSize)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
database_url: postgres://ingest:secret@db:5432/hydrant
batch_size: 262144
require_tls: false
status_addr: ":8090"
dead_letter:
  endpoint: localhost:9000
  access_key: minioadmin
  secret_key: minioadmin
  bucket: hydrant-dead-letters
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://ingest:secret@db:5432/hydrant", cfg.DatabaseURL)
	assert.Equal(t, 262144, cfg.BatchSize)
	assert.False(t, cfg.RequireTLS)
	assert.Equal(t, ":8090", cfg.StatusAddr)
	require.NotNil(t, cfg.DeadLetter)
	assert.Equal(t, "hydrant-dead-letters", cfg.DeadLetter.Bucket)
}

func TestLoad_FileDefaults(t *testing.T) {
	path := writeConfig(t, "database_url: postgres://db\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.True(t, cfg.RequireTLS, "require_tls defaults to true when absent")
	assert.Nil(t, cfg.DeadLetter)
}

func TestLoad_FileUnknownFieldsIgnored(t *testing.T) {
	path := writeConfig(t, `
database_url: postgres://db
some_future_knob: 42
`)

	_, err := Load(path)
	require.NoError(t, err)
}

func TestLoad_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"non-mapping root sequence", "- a\n- b\n"},
		{"non-mapping root scalar", "just a string\n"},
		{"missing database url", "batch_size: 131072\n"},
		{"malformed yaml", "database_url: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.doc))
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrKindConfig))
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrKindConfig))
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		expected int
		warns    bool
	}{
		{"below minimum", 32 * 1024, MinBatchSize, true},
		{"above maximum", 32 * 1024 * 1024, MaxBatchSize, true},
		{"at minimum", MinBatchSize, MinBatchSize, false},
		{"at maximum", MaxBatchSize, MaxBatchSize, false},
		{"default untouched", DefaultBatchSize, DefaultBatchSize, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			log := logger.New(&logger.Config{Level: "warn", Output: buf})

			cfg := &Config{BatchSize: tt.size}
			cfg.Clamp(log)

			assert.Equal(t, tt.expected, cfg.BatchSize)
			if tt.warns {
				assert.Contains(t, buf.String(), "Batch size")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hydrant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}
