// Package logger wraps zerolog for Hydrant's structured event stream.
//
// Every record is a single JSON object on one line of standard error with
// the keys "timestamp" (local time with offset), "level", "message", and
// "thread" (the identity token of the emitting goroutine). Records never
// interleave: the shared output writer is serialized, and zerolog emits
// each event in a single Write. A failed write drops the record silently —
// logging is observability, never a failure path.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the Hydrant record shape.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Thread string // identity token carried in every record
	Output io.Writer
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Thread: "main",
		Output: os.Stderr,
	}
}

// New creates a new logger emitting one self-delimited JSON record per call.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.TimeFieldFormat = time.RFC3339

	thread := cfg.Thread
	if thread == "" {
		thread = "main"
	}

	zlog := zerolog.New(&quietWriter{w: cfg.Output}).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("thread", thread).
		Logger()

	return &Logger{zlog: zlog}
}

// WithThread returns a child logger whose records carry the given
// identity token instead of the parent's.
func (l *Logger) WithThread(thread string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("thread", thread).Logger()}
}

// --- Logging methods ---

func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

func (l *Logger) Error(msg string) {
	l.zlog.Error().Msg(msg)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// quietWriter serializes writes and swallows failures. One Write call is
// one complete record; the mutex keeps records from interleaving when
// multiple goroutines share the logger.
type quietWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (q *quietWriter) Write(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.w.Write(p)
	return len(p), nil
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Global logger instance (for convenience)
var global = New(nil)

// Default returns the process-wide logger.
func Default() *Logger {
	return global
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	global = l
}
