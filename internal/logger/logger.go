// Package logger wires the process-wide arbor logger. Serena's
// default transport speaks MCP over stdout, so console logging is
// suppressed whenever stdout carries protocol frames; the session
// log then lives in a rotating file under the serena home, with an
// in-memory writer always attached alongside it.
package logger

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/serena/internal/config"
)

const defaultTimeFormat = "15:04:05.000"

var (
	mu     sync.RWMutex
	global arbor.ILogger
)

// GetLogger returns the process logger. Before Setup runs (tests,
// early startup failures) it falls back to a bare console logger so
// callers never need a nil check.
func GetLogger() arbor.ILogger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: defaultTimeFormat,
			OutputType: models.OutputFormatLogfmt,
		})
	}
	return global
}

// Setup builds the logger from the service configuration and
// installs it as the process logger.
func Setup(cfg *config.Config) arbor.ILogger {
	log := arbor.NewLogger()

	for _, dest := range destinations(cfg) {
		switch dest {
		case "file":
			logFile := filepath.Join(cfg.Service.Home, "logs", "serena.log")
			if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
				// Nothing sensible to log to yet; the memory writer
				// below still captures the session.
				break
			}
			wc := writerConfig(cfg, models.LogWriterTypeFile)
			wc.FileName = logFile
			log = log.WithFileWriter(wc)
		case "console":
			log = log.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole))
		}
	}

	// The memory writer is always attached, whatever the configured
	// outputs.
	log = log.WithMemoryWriter(writerConfig(cfg, models.LogWriterTypeMemory))
	log = log.WithLevelFromString(cfg.Logging.Level)

	mu.Lock()
	global = log
	mu.Unlock()
	return log
}

// destinations normalizes the configured outputs. Synonyms collapse
// ("stdout" means "console"), duplicates drop, and console logging is
// removed entirely while the MCP transport owns stdout — a single
// stray log line there corrupts the framing for the whole session.
// An empty result falls back to the log file.
func destinations(cfg *config.Config) []string {
	stdoutIsProtocol := cfg.MCP.Transport == "stdio"

	seen := make(map[string]bool)
	var out []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, o := range cfg.Logging.Output {
		switch o {
		case "file":
			add("file")
		case "console", "stdout":
			if !stdoutIsProtocol {
				add("console")
			}
		}
	}
	if len(out) == 0 {
		add("file")
	}
	return out
}

// writerConfig translates the logging config into one writer's
// settings, filling gaps with serviceable defaults.
func writerConfig(cfg *config.Config, kind models.LogWriterType) models.WriterConfiguration {
	wc := models.WriterConfiguration{
		Type:       kind,
		TimeFormat: cfg.Logging.TimeFormat,
		OutputType: models.OutputFormatLogfmt,
		MaxSize:    int64(cfg.Logging.MaxSizeMB) * 1024 * 1024,
		MaxBackups: cfg.Logging.MaxBackups,
	}
	if cfg.Logging.Format == "json" {
		wc.OutputType = models.OutputFormatJSON
	}
	if wc.TimeFormat == "" {
		wc.TimeFormat = defaultTimeFormat
	}
	if wc.MaxSize <= 0 {
		wc.MaxSize = 64 * 1024 * 1024
	}
	if wc.MaxBackups <= 0 {
		wc.MaxBackups = 3
	}
	return wc
}

// Stop flushes pending log writes; safe to call more than once.
func Stop() {
	arborcommon.Stop()
}
