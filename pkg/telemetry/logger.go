package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger handed to the engine through the context.
type Logger struct {
	zlog zerolog.Logger
}

type loggerContextKey struct{}

// NewLogger creates a logger writing to cfg.Output: stderr, stdout or a file path.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var w io.Writer
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		w = file
	}
	return NewLoggerWithWriter(cfg, w), nil
}

// NewLoggerWithWriter creates a logger that writes to w.
func NewLoggerWithWriter(cfg LoggingConfig, w io.Writer) *Logger {
	timeFormat := time.RFC3339
	switch cfg.TimeFormat {
	case "unix":
		timeFormat = zerolog.TimeFormatUnix
	case "unixms":
		timeFormat = zerolog.TimeFormatUnixMs
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	}

	zctx := zerolog.New(w).Level(parseLogLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return &Logger{zlog: zctx.Logger()}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext retrieves the logger from the context.
// Without one it returns a logger that discards everything, so library code
// stays quiet unless the caller opted in.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return NewNopLogger()
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger()}
}

// WithField returns a logger with one additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithRunID tags log lines with a batch run.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("run_id", runID) })
}

// WithResource tags log lines with the resource being reconciled.
func (l *Logger) WithResource(resourceType, name string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("resource_type", resourceType).Str("resource", name)
	})
}

// WithError attaches err to every line.
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string) { l.zlog.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...interface{}) { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string) { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zlog.Error().Msgf(format, args...) }

// parseLogLevel maps a settings level name onto zerolog; unknown names mean info.
func parseLogLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
