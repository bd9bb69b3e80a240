package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line and reported by /health.
const ServiceName = "room-climate-charts"

// LoggerOptions selects the log level and encoding.
type LoggerOptions struct {
	Level  string // DEBUG, INFO, WARN or ERROR; anything else is INFO
	Format string // "json" (default) or "console"
}

// LoggerOptionsFromEnv reads LOG_LEVEL and LOG_FORMAT.
func LoggerOptionsFromEnv() LoggerOptions {
	return LoggerOptions{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}
}

// NewLogger builds the process logger from the environment.
func NewLogger() (*zap.Logger, error) {
	return buildLogger(LoggerOptionsFromEnv())
}

func buildLogger(opts LoggerOptions) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(opts.Format), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(opts.Level)
	config.InitialFields = map[string]interface{}{
		"service": ServiceName,
	}
	return config.Build()
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN", "WARNING":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
