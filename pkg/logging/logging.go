// Package logging wraps zap.Logger the way the teacher's pkg/logging does:
// a typed LogConfig, JSON/console encoding, and context-scoped fields for
// request/trace correlation. The HTTP-facing middleware and the Loki/file
// exporters are dropped — this layer has no HTTP surface (spec.md §6) — but
// the core logger construction and context-field pattern are kept verbatim
// in spirit.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFormat is the log output encoding.
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// LogLevel is the minimum severity emitted.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogConfig holds logger configuration.
type LogConfig struct {
	Level        LogLevel
	Format       LogFormat
	OutputPaths  []string
	EnableCaller bool
}

// New builds a *zap.Logger with the given configuration, defaulting to
// info/json/stdout.
func New(cfg LogConfig) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = LogLevelInfo
	}
	if cfg.Format == "" {
		cfg.Format = LogFormatJSON
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	var level zapcore.Level
	switch cfg.Level {
	case LogLevelDebug:
		level = zapcore.DebugLevel
	case LogLevelWarn:
		level = zapcore.WarnLevel
	case LogLevelError:
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == LogFormatJSON {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == LogFormatConsole,
		Encoding:          string(cfg.Format),
		EncoderConfig:     encoderConfig,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
		DisableCaller:     !cfg.EnableCaller,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

type contextKey string

const (
	tableNameKey contextKey = "table_name"
	shardIDKey   contextKey = "shard_id"
)

// WithTable returns a context carrying the table name for log correlation.
func WithTable(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, tableNameKey, name)
}

// WithShard returns a context carrying the shard id for log correlation.
func WithShard(ctx context.Context, shardID string) context.Context {
	return context.WithValue(ctx, shardIDKey, shardID)
}

// FromContext returns the fields attached via WithTable/WithShard,
// suitable for logger.With(FromContext(ctx)...).
func FromContext(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if name, ok := ctx.Value(tableNameKey).(string); ok {
		fields = append(fields, zap.String("table", name))
	}
	if id, ok := ctx.Value(shardIDKey).(string); ok {
		fields = append(fields, zap.String("shard_id", id))
	}
	return fields
}
