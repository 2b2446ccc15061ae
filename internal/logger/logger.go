// Package logger provides centralized logging using arbor.
package logger

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/tether/internal/config"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance.
// If InitLogger() hasn't been called yet, returns a fallback console logger.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	// Double-check after acquiring write lock
	if globalLogger == nil {
		globalLogger = arbor.NewLogger().
			WithConsoleWriter(createWriterConfig(nil, models.LogWriterTypeConsole, "")).
			WithLevelFromString(fallbackLevel())
	}
	return globalLogger
}

// InitLogger stores the provided logger as the global singleton instance.
func InitLogger(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// SetupLogger configures and initializes the global logger based on configuration.
func SetupLogger(cfg *config.Config) arbor.ILogger {
	logger := arbor.NewLogger()

	hasFileOutput := false
	hasStdoutOutput := false
	for _, output := range cfg.Logging.Output {
		switch output {
		case "file":
			hasFileOutput = true
		case "stdout", "console":
			hasStdoutOutput = true
		case "both":
			hasFileOutput = true
			hasStdoutOutput = true
		}
	}

	if hasFileOutput {
		logPath := cfg.LogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			tempLogger := logger.WithConsoleWriter(createWriterConfig(cfg, models.LogWriterTypeConsole, ""))
			tempLogger.Warn().Err(err).Str("logs_dir", filepath.Dir(logPath)).Msg("Failed to create logs directory")
		} else {
			logger = logger.WithFileWriter(createWriterConfig(cfg, models.LogWriterTypeFile, logPath))
		}
	}

	if hasStdoutOutput {
		logger = logger.WithConsoleWriter(createWriterConfig(cfg, models.LogWriterTypeConsole, ""))
	}

	// Ensure at least one visible log writer is configured
	if !hasFileOutput && !hasStdoutOutput {
		logger = logger.WithConsoleWriter(createWriterConfig(cfg, models.LogWriterTypeConsole, ""))
		logger.Warn().
			Strs("configured_outputs", cfg.Logging.Output).
			Msg("No visible log outputs configured - falling back to console")
	}

	// Always add memory writer for potential log streaming
	logger = logger.WithMemoryWriter(createWriterConfig(cfg, models.LogWriterTypeMemory, ""))

	logger = logger.WithLevelFromString(cfg.Logging.Level)

	InitLogger(logger)

	return logger
}

// SetupCLI installs a console logger for the tether CLI. TETHER_LOG_LEVEL
// overrides level.
func SetupCLI(level string) arbor.ILogger {
	if lvl := os.Getenv(LevelEnv); lvl != "" {
		level = lvl
	}
	logger := arbor.NewLogger().
		WithConsoleWriter(createWriterConfig(nil, models.LogWriterTypeConsole, "")).
		WithLevelFromString(level)
	InitLogger(logger)
	return logger
}

// SetupStdio installs file-only logging for processes whose stdout carries a
// protocol, such as the MCP stdio server. cfg is not modified.
func SetupStdio(cfg *config.Config) arbor.ILogger {
	stdio := *cfg
	stdio.Logging.Output = []string{"file"}
	return SetupLogger(&stdio)
}

// ForSession tags l with a session identity. Every line logged through the
// result can be read back with SessionLogs.
func ForSession(l arbor.ILogger, identity string) arbor.ILogger {
	if l == nil {
		l = GetLogger()
	}
	if identity == "" {
		return l
	}
	return l.WithCorrelationId(identity)
}

// SessionLogs returns up to limit of the most recent log lines tagged with
// identity, oldest first. A limit of zero or less returns every retained
// line. Lines are only retained by loggers built with SetupLogger.
func SessionLogs(identity string, limit int) ([]string, error) {
	if identity == "" {
		return nil, nil
	}
	entries, err := GetLogger().GetMemoryLogsForCorrelation(identity)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	// Keys are zero-padded indexes that grow past their padding.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, entries[k])
	}
	return lines, nil
}

// createWriterConfig creates a standard writer configuration with user preferences.
func createWriterConfig(cfg *config.Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	// HH:MM:SS.mmm for alignment
	timeFormat := "15:04:05.000"
	if cfg != nil && cfg.Logging.TimeFormat != "" {
		timeFormat = cfg.Logging.TimeFormat
	}

	outputType := models.OutputFormatLogfmt
	if cfg != nil && cfg.Logging.Format == "json" {
		outputType = models.OutputFormatJSON
	}

	var maxSize int64 = 100 * 1024 * 1024 // 100 MB default
	if cfg != nil && cfg.Logging.MaxSizeMB > 0 {
		maxSize = int64(cfg.Logging.MaxSizeMB) * 1024 * 1024
	}

	maxBackups := 5
	if cfg != nil && cfg.Logging.MaxBackups > 0 {
		maxBackups = cfg.Logging.MaxBackups
	}

	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		OutputType:       outputType,
		DisableTimestamp: false,
		MaxSize:          maxSize,
		MaxBackups:       maxBackups,
	}
}

// LevelEnv overrides the level of loggers not built from a config file.
const LevelEnv = "TETHER_LOG_LEVEL"

// fallbackLevel honours LevelEnv for processes that never call a Setup
// function, such as tests.
func fallbackLevel() string {
	if lvl := os.Getenv(LevelEnv); lvl != "" {
		return lvl
	}
	return "info"
}

// Stop flushes any remaining context logs before application shutdown.
// Safe to call multiple times (Arbor's Stop is idempotent).
func Stop() {
	arborcommon.Stop()
}
