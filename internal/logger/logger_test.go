package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "custom config",
			config: &Config{
				Level:  "debug",
				Thread: "producer",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.config)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_RecordShape(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{
		Level:  "info",
		Thread: "main",
		Output: buf,
	})

	logger.Info("test message")

	var record map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, "info", record["level"])
	assert.Equal(t, "test message", record["message"])
	assert.Equal(t, "main", record["thread"])
	assert.NotEmpty(t, record["timestamp"])
}

func TestLogger_WithThread(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{
		Level:  "info",
		Thread: "main",
		Output: buf,
	})

	logger.WithThread("worker-1").Infof("processed %d batches", 3)

	var record map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, "worker-1", record["thread"])
	assert.Equal(t, "processed 3 batches", record["message"])
}

func TestLogger_EscapesMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{
		Level:  "error",
		Output: buf,
	})

	logger.Error("line one\nline \"two\"\t\\end\x01")

	// One self-delimited record per line, control bytes escaped.
	raw := buf.String()
	assert.Equal(t, 1, strings.Count(raw, "\n"))

	var record map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline \"two\"\t\\end\x01", record["message"])
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logFunc  func(*Logger)
		expected bool // should log or not
	}{
		{
			name:  "debug level logs debug",
			level: "debug",
			logFunc: func(l *Logger) {
				l.Debug("debug message")
			},
			expected: true,
		},
		{
			name:  "info level skips debug",
			level: "info",
			logFunc: func(l *Logger) {
				l.Debug("debug message")
			},
			expected: false,
		},
		{
			name:  "error level logs error",
			level: "error",
			logFunc: func(l *Logger) {
				l.Error("error message")
			},
			expected: true,
		},
		{
			name:  "error level skips warn",
			level: "error",
			logFunc: func(l *Logger) {
				l.Warn("warn message")
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := New(&Config{
				Level:  tt.level,
				Output: buf,
			})

			tt.logFunc(logger)

			if tt.expected {
				assert.NotEmpty(t, buf.String(), "expected log output")
			} else {
				assert.Empty(t, buf.String(), "expected no log output")
			}
		})
	}
}

func TestLogger_ConcurrentRecordsDoNotInterleave(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{
		Level:  "info",
		Output: buf,
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Info("concurrent record with a long enough payload to catch torn writes")
			}
		}()
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &record))
	}
}

func TestLogger_DropsFailedWrites(t *testing.T) {
	logger := New(&Config{
		Level:  "info",
		Output: failingWriter{},
	})

	assert.NotPanics(t, func() {
		logger.Info("dropped")
	})
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func BenchmarkLogger_Info(b *testing.B) {
	logger := New(&Config{
		Level:  "info",
		Output: io.Discard,
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message")
	}
}
