package config

import (
	"fmt"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a zap logger from lc.
// Level is one of debug, info, warn, error (default info); format is json
// or console (default json). When File is set, output is written to a
// size-rotated file instead of stderr.
func NewLogger(lc LogConfig) (*zap.Logger, error) {
	level := lc.Level
	if level == "" {
		level = "info"
	}
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch lc.Format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", lc.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	if lc.File == "" {
		return cfg.Build()
	}

	var encoder zapcore.Encoder
	if lc.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(cfg.EncoderConfig)
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
	})
	core := zapcore.NewCore(encoder, sink, cfg.Level)
	return zap.New(core, zap.AddCaller()), nil
}
