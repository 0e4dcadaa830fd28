package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MEKXH/farcode/internal/config"
	"github.com/MEKXH/farcode/internal/policy"
)

var (
	loggerMu      sync.Mutex
	activeLogFile *os.File
)

// configureLogger installs the default slog handler. In chat mode logs never
// reach the terminal: they go to log.file or are dropped.
func configureLogger(cfg *config.Config, overrideLevel string, chatMode bool) error {
	level, err := parseLogLevel(cfg.Log.Level, overrideLevel)
	if err != nil {
		return err
	}

	logFilePath, err := policy.ExpandHome(strings.TrimSpace(cfg.Log.File))
	if err != nil {
		return fmt.Errorf("resolve log file: %w", err)
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()

	writer, err := logWriter(logFilePath, chatMode)
	if err != nil {
		return err
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	slog.SetDefault(slog.New(handler).With("app", "farcode"))
	return nil
}

// logWriter must be called with loggerMu held.
func logWriter(path string, chatMode bool) (io.Writer, error) {
	if activeLogFile != nil && activeLogFile.Name() != path {
		_ = activeLogFile.Close()
		activeLogFile = nil
	}

	switch {
	case path != "":
		if activeLogFile != nil {
			return activeLogFile, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		activeLogFile = f
		return f, nil
	case chatMode:
		return io.Discard, nil
	default:
		return os.Stderr, nil
	}
}

func parseLogLevel(configLevel, override string) (slog.Level, error) {
	level := strings.TrimSpace(configLevel)
	if strings.TrimSpace(override) != "" {
		level = override
	}
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", level)
	}
}
