package utils

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Merryfling/shortlink/internal/config"
)

// NewLogger creates a new logger instance based on configuration
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if cfg.Format == "console" {
		zapConfig.Development = true
		zapConfig.EncoderConfig.CallerKey = "caller"
		zapConfig.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	}

	logger, err := zapConfig.Build(
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// NewStructuredLogger creates a structured logger with additional fields
func NewStructuredLogger(cfg config.LogConfig, service string, version string) (*zap.Logger, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	return logger.With(
		zap.String("service", service),
		zap.String("version", version),
		zap.Int("pid", os.Getpid()),
	), nil
}
