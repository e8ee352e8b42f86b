package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

var (
	// globalLogger is the process-wide logger, configured once per invocation
	globalLogger *Logger

	once sync.Once

	defaultConfig = Config{
		Level:      "info",
		Format:     FormatJSON,
		TimeFormat: time.RFC3339,
	}
)

// Logger wraps zerolog.Logger with map based field helpers
type Logger struct {
	zerolog.Logger
	level zerolog.Level
}

// LogFormat defines the available log formats
type LogFormat string

const (
	// FormatJSON writes one JSON object per line (CloudWatch friendly)
	FormatJSON LogFormat = "json"
	// FormatConsole writes human readable lines
	FormatConsole LogFormat = "console"
)

// ParseLogFormat parses a string into a LogFormat, defaulting to JSON
func ParseLogFormat(format string) LogFormat {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text", "pretty":
		return FormatConsole
	default:
		return FormatJSON
	}
}

// Config holds the configuration for the logger
type Config struct {
	// Level is the log level (debug, info, warn, error)
	Level string
	// Format is the log format (json, console)
	Format LogFormat
	// Output is the output writer (default: os.Stdout)
	Output io.Writer
	// TimeFormat is the time format used by the console writer
	TimeFormat string
}

// Get returns the global logger, initialising it with defaults if needed
func Get() *Logger {
	once.Do(func() {
		if globalLogger == nil {
			setupLogger(defaultConfig)
		}
	})
	return globalLogger
}

// Setup initializes the global logger. Only the first call has an effect.
func Setup(cfg Config) {
	once.Do(func() {
		setupLogger(cfg)
	})
}

// ResetForTesting resets the global logger. Tests only.
func ResetForTesting() {
	globalLogger = nil
	once = sync.Once{}
}

// New builds a standalone logger without touching the global one
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level = parsed
		}
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var zl zerolog.Logger
	switch cfg.Format {
	case FormatConsole:
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: cfg.TimeFormat})
	default:
		zl = zerolog.New(output)
	}
	zl = zl.Level(level).With().Timestamp().Logger()

	return &Logger{Logger: zl, level: level}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), level: zerolog.Disabled}
}

func setupLogger(cfg Config) {
	globalLogger = New(cfg)
	globalLogger.Debug("Logger initialized", map[string]interface{}{
		"format": string(cfg.Format),
		"level":  globalLogger.level.String(),
	})
}

// GetLevel returns the configured level
func (l *Logger) GetLevel() zerolog.Level {
	if l == nil {
		return zerolog.Disabled
	}
	return l.level
}

type loggerKey struct{}

// NewContext stores the logger in the context
func NewContext(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or nil when there is none
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return nil
	}
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return nil
}

// WithFields returns a child logger carrying the given fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if l == nil {
		return Get().WithFields(fields)
	}
	if len(fields) == 0 {
		return l
	}

	ctx := l.Logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{Logger: ctx.Logger(), level: l.level}
}

// Info logs a message at Info level with optional fields
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Info(), fields).Msg(msg)
}

// Warn logs a message at Warn level with optional fields
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Warn(), fields).Msg(msg)
}

// Debug logs a message at Debug level with optional fields
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Debug(), fields).Msg(msg)
}

// Error logs a message at Error level with optional fields
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Error(), fields).Msg(msg)
}

func (l *Logger) event(e *zerolog.Event, fields []map[string]interface{}) *zerolog.Event {
	if len(fields) > 0 && len(fields[0]) > 0 {
		e = e.Fields(fields[0])
	}
	return e
}
