package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with engine-specific functionality.
type Logger struct {
	zlog   zerolog.Logger
	config LoggingConfig
}

// loggerContextKey is the context key for logger instances.
type loggerContextKey struct{}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggingConfig, rank int) (*Logger, error) {
	// Configure output writer
	var writer io.Writer
	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "stderr", "":
		writer = os.Stderr
	default:
		// If it's not stdout/stderr, assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	// Configure format
	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: getTimeFormat(cfg.TimeFormat),
			NoColor:    false,
		}
	}

	// Configure time format
	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	case "unixmicro":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	default: // rfc3339
		zerolog.TimeFieldFormat = time.RFC3339
	}

	// Create base logger with the process rank stamped on every line
	zlog := zerolog.New(writer).With().Timestamp().Int("rank", rank).Logger()

	// Set log level
	level := parseLogLevel(cfg.Level)
	zlog = zlog.Level(level)

	// Enable caller information if requested
	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}

	// Configure sampling if enabled
	if cfg.EnableSampling {
		sampler := &zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      1 * time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		}
		zlog = zlog.Sample(sampler)
	}

	return &Logger{
		zlog:   zlog,
		config: cfg,
	}, nil
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("component", component).Logger(),
		config: l.config,
	}
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// LoggerFromContext retrieves the logger from the context.
// If no logger is found, it returns a default logger.
func LoggerFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{
		zlog: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Interface(key, value).Logger(),
		config: l.config,
	}
}

// WithTree adds the tree id field to the logger.
func (l *Logger) WithTree(id uint64) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Uint64("tree", id).Logger(),
		config: l.config,
	}
}

// WithKey adds a tree-key field to the logger.
func (l *Logger) WithKey(key fmt.Stringer) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Stringer("key", key).Logger(),
		config: l.config,
	}
}

// Trace logs a message at trace level.
func (l *Logger) Trace() *zerolog.Event { return l.zlog.Trace() }

// Debug logs a message at debug level.
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }

// Info logs a message at info level.
func (l *Logger) Info() *zerolog.Event { return l.zlog.Info() }

// Warn logs a message at warn level.
func (l *Logger) Warn() *zerolog.Event { return l.zlog.Warn() }

// Error logs a message at error level.
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// Fatal logs a message at fatal level and exits.
func (l *Logger) Fatal() *zerolog.Event { return l.zlog.Fatal() }

// Zerolog returns the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger { return l.zlog }

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func getTimeFormat(format string) string {
	switch format {
	case "unix", "unixms", "unixmicro":
		return time.StampMicro
	default:
		return time.RFC3339
	}
}
