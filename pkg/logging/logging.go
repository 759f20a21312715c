// Package logging builds the process logger and the HTTP access log.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures New.
type Options struct {
	Level       string
	Format      string
	Development bool
}

// New builds a zap logger whose level can be changed at runtime through the
// returned AtomicLevel.
func New(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if err := SetLevel(level, opts.Level); err != nil {
		return nil, level, err
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatConsole:
		cfg.Encoding = FormatConsole
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case FormatJSON:
		cfg.Encoding = FormatJSON
	default:
		return nil, level, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, level, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, level, nil
}

// SetLevel parses raw and applies it. An empty string means info.
func SetLevel(level zap.AtomicLevel, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		level.SetLevel(zapcore.InfoLevel)
		return nil
	}
	parsed, err := zapcore.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	level.SetLevel(parsed)
	return nil
}
