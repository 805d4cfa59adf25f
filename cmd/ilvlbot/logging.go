package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"ilvlbot/internal/config"
)

// newLogger builds the process logger. Without a log file it writes coloured
// output to stderr; with one it tees plain output into a rotating file.
func newLogger(cfg config.GeneralConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.LogLevel)
	logFile := strings.TrimSpace(cfg.LogFile)
	if logFile == "" {
		return newTintLogger(stderr, level, false), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir failed: %w", err)
	}

	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    positiveOr(cfg.LogMaxSizeMB, 20),
		MaxBackups: positiveOr(cfg.LogMaxBackups, 5),
		MaxAge:     positiveOr(cfg.LogMaxAgeDays, 14),
		Compress:   true,
	}
	logger := newTintLogger(io.MultiWriter(stderr, rotating), level, true)
	logger.Debug("file logging enabled", "path", logFile)
	return logger, rotating, nil
}

func newTintLogger(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		AddSource:  true,
		NoColor:    noColor,
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
