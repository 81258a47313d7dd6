package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/serena/internal/config"
)

func TestDestinations_ConsoleSuppressedOnStdioTransport(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MCP.Transport = "stdio"
	cfg.Logging.Output = config.StringSlice{"console", "file"}

	assert.Equal(t, []string{"file"}, destinations(cfg))
}

func TestDestinations_ConsoleAllowedOnHTTPTransport(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MCP.Transport = "http"
	cfg.Logging.Output = config.StringSlice{"stdout", "file", "console"}

	// "stdout" and "console" are synonyms and collapse to one entry.
	assert.Equal(t, []string{"console", "file"}, destinations(cfg))
}

func TestDestinations_EmptyFallsBackToFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MCP.Transport = "stdio"
	cfg.Logging.Output = config.StringSlice{"console"}

	// With console suppressed nothing would remain, so the file
	// destination steps in.
	assert.Equal(t, []string{"file"}, destinations(cfg))
}

func TestWriterConfig_DefaultsAndOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.TimeFormat = ""
	cfg.Logging.MaxSizeMB = 0
	cfg.Logging.MaxBackups = 0

	wc := writerConfig(cfg, models.LogWriterTypeFile)
	assert.Equal(t, defaultTimeFormat, wc.TimeFormat)
	assert.Equal(t, int64(64*1024*1024), wc.MaxSize)
	assert.Equal(t, 3, wc.MaxBackups)
	assert.Equal(t, models.OutputFormatLogfmt, wc.OutputType)

	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 10
	wc = writerConfig(cfg, models.LogWriterTypeMemory)
	assert.Equal(t, models.OutputFormatJSON, wc.OutputType)
	assert.Equal(t, int64(10*1024*1024), wc.MaxSize)
}

func TestSetup_InstallsProcessLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Service.Home = t.TempDir()
	cfg.Logging.Output = config.StringSlice{"file"}

	log := Setup(cfg)
	require.NotNil(t, log)
	assert.Equal(t, log, GetLogger())
}

func TestGetLogger_FallbackBeforeSetup(t *testing.T) {
	mu.Lock()
	global = nil
	mu.Unlock()

	assert.NotNil(t, GetLogger())
}
