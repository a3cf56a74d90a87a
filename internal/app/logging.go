// Package app provides the tracer CLI's orchestration: logging and the
// Run entry point cmd/steptrace/main.go calls once it has parsed flags.
package app

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	// LogLevelDebug is for detailed debugging information.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is for general informational messages.
	LogLevelInfo
	// LogLevelWarn is for warning messages.
	LogLevelWarn
	// LogLevelError is for error messages.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string into a LogLevel.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return LogLevelDebug
	case "info", "INFO":
		return LogLevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LogLevelWarn
	case "error", "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger provides structured logging for the tracer. Every diagnostic
// goes through here rather than fmt.Println, since process stdout is reserved for
// process stdout exclusively for the captured user output — a listener
// diagnostic on stdout would corrupt the trace's own stdout field.
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	output io.Writer
	prefix string
	// fields holds attached values; fieldOrder records the order they
	// were first attached, the same "keep first-insertion order, don't
	// sort" rule the tracer applies to ordered_globals and
	// ordered_varnames, so a run's log line for trace_id/step context
	// reads in the order a caller built it up rather than map order.
	fields     map[string]any
	fieldOrder []string
	disabled   bool
}

// LoggerConfig configures the logger.
type LoggerConfig struct {
	// Level is the minimum log level to output.
	Level LogLevel
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Prefix is prepended to all log messages.
	Prefix string
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  LogLevelInfo,
		Output: os.Stderr,
		Prefix: "steptrace",
	}
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggerConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Logger{
		level:  cfg.Level,
		output: cfg.Output,
		prefix: cfg.Prefix,
		fields: make(map[string]any),
	}
}

// WithField returns a new logger with the given field added.
func (l *Logger) WithField(key string, value any) *Logger {
	newFields := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	_, existed := newFields[key]
	newFields[key] = value

	newOrder := l.fieldOrder
	if !existed {
		newOrder = make([]string, len(l.fieldOrder), len(l.fieldOrder)+1)
		copy(newOrder, l.fieldOrder)
		newOrder = append(newOrder, key)
	}

	return &Logger{
		level:      l.level,
		output:     l.output,
		prefix:     l.prefix,
		fields:     newFields,
		fieldOrder: newOrder,
		disabled:   l.disabled,
	}
}

// WithComponent returns a new logger with the component field set,
// identifying which of the tracer's own pieces (wrapper, engine, encode,
// output, watch) emitted a line.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// WithTraceID returns a new logger tagged with the trace_id a run's
// output.Blob was stamped with, so every diagnostic for one invocation
// can be correlated back to the trace it describes.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return l.WithField("trace_id", traceID)
}

// WithStep returns a new logger tagged with the current entry count,
// for diagnostics emitted while the Stepping Engine is mid-run (e.g. a
// step-budget warning) rather than after Run has returned.
func (l *Logger) WithStep(step int) *Logger {
	return l.WithField("step", step)
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LogLevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LogLevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LogLevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LogLevelError, msg, args...)
}

// log writes a log message if the level is enabled.
func (l *Logger) log(level LogLevel, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disabled || level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02T15:04:05.000")

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var line string
	if l.prefix != "" {
		line = fmt.Sprintf("%s [%s] %s: %s", timestamp, level.String(), l.prefix, msg)
	} else {
		line = fmt.Sprintf("%s [%s] %s", timestamp, level.String(), msg)
	}

	if len(l.fieldOrder) > 0 {
		line += " {"
		for i, k := range l.fieldOrder {
			if i > 0 {
				line += ", "
			}
			line += fmt.Sprintf("%s=%v", k, l.fields[k])
		}
		line += "}"
	}

	line += "\n"

	_, _ = l.output.Write([]byte(line))
}

// appLogger is the process-wide logger instance.
var (
	appLogger     *Logger
	appLoggerOnce sync.Once
)

// GetLogger returns the process logger, creating a default one on first
// call if SetLogger was never invoked.
func GetLogger() *Logger {
	appLoggerOnce.Do(func() {
		if appLogger == nil {
			appLogger = NewLogger(DefaultLoggerConfig())
		}
	})
	return appLogger
}

// SetLogger sets the process-wide logger. Should be called early in
// startup, before any component reaches for GetLogger.
func SetLogger(l *Logger) {
	appLogger = l
}
