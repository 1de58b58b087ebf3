package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ParseLevel converts a textual level into a LogLevel. An empty string
// yields LevelInfo.
func ParseLevel(s string) (LogLevel, error) {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return LevelInfo, nil
	case LevelDebug:
		return LevelDebug, nil
	case LevelInfo:
		return LevelInfo, nil
	case LevelWarn, "warning":
		return LevelWarn, nil
	case LevelError:
		return LevelError, nil
	}
	return "", fmt.Errorf("unknown log level: %q", s)
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config describes where and how a Logger writes. Output is "stdout",
// "stderr" or a file path.
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level"`
	Format    LogFormat `yaml:"format" json:"format"`
	Output    string    `yaml:"output" json:"output"`
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Output:    "stdout",
		AddSource: true,
	}
}

// Logger is a slog.Logger that remembers its output and shares a mutable
// level with every logger derived from it.
type Logger struct {
	*slog.Logger
	config Config
	writer io.Writer
	level  *slog.LevelVar
}

// NewLogger builds a logger from config. Timestamps are RFC3339.
func NewLogger(config Config) (*Logger, error) {
	writer, err := openOutput(config.Output)
	if err != nil {
		return nil, err
	}

	level := new(slog.LevelVar)
	level.Set(config.Level.slogLevel())

	return &Logger{
		Logger: slog.New(newHandler(writer, config, level)),
		config: config,
		writer: writer,
		level:  level,
	}, nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func newHandler(w io.Writer, config Config, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	if config.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (l *Logger) derive(args ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		writer: l.writer,
		level:  l.level,
	}
}

// SetLevel changes the minimum level of this logger and of every logger
// derived from it.
func (l *Logger) SetLevel(level LogLevel) {
	l.config.Level = level
	if l.level != nil {
		l.level.Set(level.slogLevel())
	}
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.derive("component", component)
}

// WithFields attaches fields in key order.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return l.derive(args...)
}

type contextFieldsKey struct{}

// ContextWithFields returns a context carrying key/value pairs that
// WithContext attaches to a logger. Pairs accumulate across calls.
func ContextWithFields(ctx context.Context, args ...interface{}) context.Context {
	prev, _ := ctx.Value(contextFieldsKey{}).([]interface{})
	fields := make([]interface{}, 0, len(prev)+len(args))
	fields = append(fields, prev...)
	fields = append(fields, args...)
	return context.WithValue(ctx, contextFieldsKey{}, fields)
}

// WithContext returns a logger carrying the fields stored in ctx by
// ContextWithFields, or l itself when there are none.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	fields, _ := ctx.Value(contextFieldsKey{}).([]interface{})
	if len(fields) == 0 {
		return l
	}
	return l.derive(fields...)
}

// Close closes a file output. The process standard streams stay open.
func (l *Logger) Close() error {
	if l.writer == os.Stdout || l.writer == os.Stderr {
		return nil
	}
	if c, ok := l.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// SetGlobalLogger replaces the package logger. nil restores the lazily
// created default.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the package logger, creating a default one on
// first use.
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		// stdout cannot fail to open.
		globalLogger, _ = NewLogger(DefaultConfig())
	}
	return globalLogger
}

func Info(msg string, args ...interface{}) {
	GetGlobalLogger().Info(msg, args...)
}

func Error(msg string, args ...interface{}) {
	GetGlobalLogger().Error(msg, args...)
}

// Named returns a logger for a subsystem, e.g. "cluster/node". It is the
// global logger with the subsystem attached as the component field.
func Named(subsystem string) *Logger {
	return GetGlobalLogger().WithComponent(subsystem)
}
