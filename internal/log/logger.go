// Package log implements structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/flowcache/internal/config"
)

var (
	mu sync.Mutex
	// fileOut is the file output of the current default logger.
	fileOut io.Closer

	newFileWriter = createFileWriter
)

// Init initializes the global logger based on configuration. Every record
// carries the given attributes (typically the node hostname). Calling it
// again replaces the logger and closes the previous file output.
func Init(cfg config.LogConfig, attrs ...slog.Attr) error {
	mu.Lock()
	defer mu.Unlock()

	// stdout is always included.
	writers := []io.Writer{os.Stdout}

	var file io.WriteCloser
	if cfg.Outputs.File.Enabled {
		w, err := newFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		file = w
		writers = append(writers, w)
	}

	logger, err := New(cfg, io.MultiWriter(writers...))
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return err
	}
	if len(attrs) > 0 {
		logger = slog.New(logger.Handler().WithAttrs(attrs))
	}

	slog.SetDefault(logger)

	prev := fileOut
	fileOut = file
	if prev != nil {
		if err := prev.Close(); err != nil {
			slog.Warn("failed to close previous log file", "error", err)
		}
	}
	return nil
}

// Close closes the file output of the current logger, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileOut == nil {
		return nil
	}
	err := fileOut.Close()
	fileOut = nil
	return err
}

// New builds a logger writing to w with the level and format of cfg.
func New(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	return slog.New(handler), nil
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (io.WriteCloser, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
