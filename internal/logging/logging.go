// Package logging builds the process logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level   string
	File    string
	Verbose bool
	// MaxSizeMB caps one log file before rotation; zero uses 10.
	MaxSizeMB  int
	MaxBackups int
}

func (o Options) level() (zapcore.Level, error) {
	if o.Verbose {
		return zapcore.DebugLevel, nil
	}
	if o.Level == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(o.Level)
}

// New builds a production logger writing JSON to stderr and, when File is set, to a
// rotated log file as well.
func New(opts Options) (*zap.Logger, error) {
	lvl, err := opts.level()
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if opts.File == "" {
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		return logger, nil
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	enc := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), cfg.Level),
		zapcore.NewCore(enc, zapcore.AddSync(file), cfg.Level),
	)
	return zap.New(core, zap.AddCaller()), nil
}
