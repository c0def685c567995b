// Package logging wraps zap with the harness's structured-logging
// conventions: a small interface so callers don't depend on the concrete
// encoder, and a set of field constructors for the domain types that show
// up in almost every log line (experiments, shards, drivers).
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface the rest of the module
// depends on.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, err error, fields ...zap.Field)
	Fatal(msg string, err error, fields ...zap.Field)
	With(fields ...zap.Field) Logger
	Sync() error
}

type zapLogger struct {
	logger *zap.Logger
}

// Config configures a Logger.
type Config struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Output      string `yaml:"output"`
	Development bool   `yaml:"development"`
}

// New builds a structured Logger from Config.
func New(config Config) (Logger, error) {
	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(config.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	var writeSyncer zapcore.WriteSyncer
	switch strings.ToLower(config.Output) {
	case "stdout", "":
		writeSyncer = zapcore.AddSync(os.Stdout)
	case "stderr":
		writeSyncer = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	var options []zap.Option
	if config.Development {
		options = append(options, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		options = append(options, zap.AddCaller())
	}

	return &zapLogger{logger: zap.New(core, options...)}, nil
}

// NewDefault builds a Logger with sensible defaults for interactive runs.
func NewDefault() Logger {
	logger, err := New(Config{Level: "info", Format: "console", Output: "stdout", Development: true})
	if err != nil {
		zapLog, _ := zap.NewDevelopment()
		return &zapLogger{logger: zapLog}
	}
	return logger
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.logger.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.logger.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.logger.Warn(msg, fields...) }

func (l *zapLogger) Error(msg string, err error, fields ...zap.Field) {
	allFields := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	allFields = append(allFields, fields...)
	l.logger.Error(msg, allFields...)
}

func (l *zapLogger) Fatal(msg string, err error, fields ...zap.Field) {
	allFields := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	allFields = append(allFields, fields...)
	l.logger.Fatal(msg, allFields...)
}

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{logger: l.logger.With(fields...)}
}

func (l *zapLogger) Sync() error { return l.logger.Sync() }

func parseLogLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

// fieldHelpers provides common field constructors for structured logging.
type fieldHelpers struct{}

// Fields is the package's field-constructor namespace, e.g. logging.Fields.Experiment(...).
var Fields fieldHelpers

func (fieldHelpers) String(key, value string) zap.Field { return zap.String(key, value) }
func (fieldHelpers) Int(key string, value int) zap.Field { return zap.Int(key, value) }
func (fieldHelpers) Int64(key string, value int64) zap.Field { return zap.Int64(key, value) }
func (fieldHelpers) Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func (fieldHelpers) Bool(key string, value bool) zap.Field { return zap.Bool(key, value) }
func (fieldHelpers) Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}
func (fieldHelpers) Error(err error) zap.Field     { return zap.Error(err) }
func (fieldHelpers) Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

// Experiment tags a log line with one ExperimentInfo's shape.
func (fieldHelpers) Experiment(numThreads int, numOps int64, targetThroughput float64) []zap.Field {
	return []zap.Field{
		zap.Int("num_threads", numThreads),
		zap.Int64("num_ops", numOps),
		zap.Float64("target_throughput", targetThroughput),
	}
}

// Driver tags a log line with a driver name.
func (fieldHelpers) Driver(name string) zap.Field {
	return zap.String("driver", name)
}

// Shard tags a log line with a shard id.
func (fieldHelpers) Shard(id int) zap.Field {
	return zap.Int("shard", id)
}
