// Package logging provides the structured logger shared across Project
// Pumpkin's components, built on go.uber.org/zap.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap.Logger whose minimum level is parsed from
// level (one of "debug", "info", "warn", "error"; defaults to "info" when
// empty). An unrecognised value is returned as an error.
func New(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	if level == "" {
		zl = zapcore.InfoLevel
	} else if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: failed to build logger: %w", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything, for tests that do not care
// about log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
