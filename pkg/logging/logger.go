// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added to every line when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logCtx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		logCtx = logCtx.Str("service", cfg.Service)
	}
	logger := logCtx.Logger()
	log.Logger = logger

	return logger
}

// zerologLevel maps a LogLevel to zerolog. Unknown names log at info.
func zerologLevel(level LogLevel) zerolog.Level {
	l, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel validates a level name from configuration.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", name)
	}
}

// WithContext attaches a component logger to ctx. Code that only has a
// context, such as a producer run outside a task.Runner, finds it with
// zerolog.Ctx.
func WithContext(ctx context.Context, component string) context.Context {
	return NewLogger(component).WithContext(ctx)
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, ETag, 304)
//   - Listing fetches and empty pages
//   - Stale completions dropped by a Runner
//
// Info: Normal operation events
//   - Page fetch start and completion
//   - Retried runs, aborted runs
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Backoff after 429/503
//   - Retry attempts exhausted
//   - Page timeouts and failed runs
//   - Cache errors (fallback to direct request)
//
// Error: Error conditions requiring attention
//   - Configuration errors
//   - Server failures
//
// Context Fields:
//   - component: emitting package (hn-client, task, pagination, ...)
//   - task, run_id, epoch: Runner and run identity
//   - listing, page: page being fetched
//   - endpoint, status, error_class: API request details
//   - duration: elapsed time
