// Package logging builds the zap loggers used by the bench and report
// commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level, encoding and destinations of the logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console, json
	// LogTo lists destinations separated by spaces: console, file.
	LogTo      string
	LogPath    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Console overrides os.Stderr, mostly for tests.
	Console io.Writer
}

// New returns a logger writing to every destination named in cfg.LogTo.
// An empty LogTo logs to the console only.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	var cores []zapcore.Core
	for _, dest := range destinations(cfg.LogTo) {
		switch dest {
		case "console":
			var w io.Writer = os.Stderr
			if cfg.Console != nil {
				w = cfg.Console
			}
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(w), level))
		case "file":
			if cfg.LogPath == "" {
				return nil, fmt.Errorf("log_to includes file but log_path is empty")
			}
			writer := &lumberjack.Logger{
				Filename:   cfg.LogPath,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
			}
			cores = append(cores, zapcore.NewCore(encoder.Clone(), zapcore.AddSync(writer), level))
		default:
			return nil, fmt.Errorf("unknown log destination %q", dest)
		}
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

// ParseLevel maps a level name to its zap level; empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

func newEncoder(format string) (zapcore.Encoder, error) {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	switch strings.ToLower(format) {
	case "", "console":
		return zapcore.NewConsoleEncoder(ec), nil
	case "json":
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(ec), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func destinations(logTo string) []string {
	fields := strings.Fields(strings.ToLower(logTo))
	if len(fields) == 0 {
		return []string{"console"}
	}
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Worker returns the child logger of one virtual user.
func Worker(log *zap.Logger, id string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.Named("worker").With(zap.String("worker", id))
}
