package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel names the environment variable read by FromEnv.
const EnvLevel = "LOG_LEVEL"

// DefaultConfig is a JSON production config writing to stderr, so log lines
// never interleave with REPL output on stdout.
func DefaultConfig() zap.Config {
	logConf := zap.NewProductionConfig()
	logConf.Sampling = nil
	logConf.OutputPaths = []string{"stderr"}
	logConf.ErrorOutputPaths = []string{"stderr"}
	logConf.EncoderConfig.TimeKey = "time"
	logConf.EncoderConfig.LevelKey = "severity"
	logConf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConf.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	return logConf
}

// New builds a logger from DefaultConfig at the given level.
func New(level zapcore.Level) (*zap.Logger, error) {
	logConf := DefaultConfig()
	logConf.Level = zap.NewAtomicLevelAt(level)

	logger, err := logConf.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// FromEnv builds a logger at the level named by LOG_LEVEL, or at fallback
// when the variable is unset.
func FromEnv(fallback zapcore.Level) (*zap.Logger, error) {
	level := fallback
	if value := os.Getenv(EnvLevel); value != "" {
		var err error
		level, err = ParseLevel(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvLevel, err)
		}
	}
	return New(level)
}

// ParseLevel accepts a level name or its numeric value.
func ParseLevel(l string) (zapcore.Level, error) {
	l = strings.ToLower(strings.TrimSpace(l))
	switch l {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "dpanic":
		return zapcore.DPanicLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		level, err := strconv.ParseInt(l, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("unknown log level %q", l)
		}
		if level < int64(zapcore.DebugLevel) || level > int64(zapcore.FatalLevel) {
			return 0, fmt.Errorf("log level %d out of range", level)
		}
		return zapcore.Level(level), nil
	}
}
