// Package observability provides the logging, correlation tracking and
// metrics used by every traffic-manager component.
package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// LogLevel controls which records a logger emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// ParseLogLevel maps the LOG_LEVEL configuration value to a LogLevel.
// CRITICAL collapses into the error level.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LogLevelDebug
	case "WARNING", "WARN":
		return LogLevelWarn
	case "ERROR", "CRITICAL":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger is the structured logging interface used across the codebase.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	// WithContext returns a logger whose records carry the correlation ID
	// bound to ctx.
	WithContext(ctx context.Context) Logger
}

// StandardLogger writes level-filtered key=value records through the
// standard log package.
type StandardLogger struct {
	prefix        string
	level         LogLevel
	correlationID string
	out           *log.Logger
}

// NewLogger creates a logger with the given component prefix at INFO level.
func NewLogger(prefix string) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
		out:    log.New(os.Stderr, "", 0),
	}
}

// NewLoggerWithLevel creates a logger with the given prefix and level.
func NewLoggerWithLevel(prefix string, level LogLevel) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  level,
		out:    log.New(os.Stderr, "", 0),
	}
}

// WithContext returns a copy of the logger that stamps every record with
// the correlation ID from ctx (or "-" when unset).
func (l *StandardLogger) WithContext(ctx context.Context) Logger {
	clone := *l
	clone.correlationID = CorrelationIDOrDash(ctx)
	return &clone
}

func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	l.logAt(LogLevelDebug, msg, fields)
}

func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	l.logAt(LogLevelInfo, msg, fields)
}

func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	l.logAt(LogLevelWarn, msg, fields)
}

func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.logAt(LogLevelError, msg, fields)
}

func (l *StandardLogger) logAt(level LogLevel, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	corr := l.correlationID
	if corr == "" {
		corr = "-"
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteString(" ")
	b.WriteString(level.String())
	b.WriteString(" [")
	b.WriteString(l.prefix)
	b.WriteString("] correlation_id=")
	b.WriteString(corr)
	b.WriteString(" ")
	b.WriteString(msg)

	// Deterministic field order keeps records diffable.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
	}

	l.out.Println(b.String())
}
