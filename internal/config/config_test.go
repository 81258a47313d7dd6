package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(filepath.Join(tmpDir, "serena_config.yml"))
	require.NoError(t, err)

	assert.Equal(t, "source", cfg.Index.DefaultScope)
	assert.Equal(t, 500, cfg.Cache.CapacityEntries)
	assert.Equal(t, "stdio", cfg.MCP.Transport)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "serena_config.yml")

	content := `
service:
  default_context: ide
mcp:
  transport: http
  http_addr: "127.0.0.1:9999"
cache:
  capacity_entries: 250
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ide", cfg.Service.DefaultContext)
	assert.Equal(t, "http", cfg.MCP.Transport)
	assert.Equal(t, "127.0.0.1:9999", cfg.MCP.HTTPAddr)
	assert.Equal(t, 250, cfg.Cache.CapacityEntries)

	// Fields absent from the override merge in from defaults.
	assert.NotEmpty(t, cfg.Index.ExcludeGlobs)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "serena_config.yml")

	t.Setenv("SERENA_TEST_ADDR", "10.0.0.1:7000")
	content := "mcp:\n  http_addr: \"${SERENA_TEST_ADDR}\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7000", cfg.MCP.HTTPAddr)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "serena_config.yml")
	require.NoError(t, os.WriteFile(path, []byte("service: [this is not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "serena_config.yml")

	cfg := DefaultConfig()
	cfg.Service.DefaultContext = "ide"
	cfg.Cache.CapacityEntries = 42

	require.NoError(t, cfg.Save(path))
	assert.FileExists(t, path)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ide", loaded.Service.DefaultContext)
	assert.Equal(t, 42, loaded.Cache.CapacityEntries)
}

func TestOutputStringSlice_UnmarshalsScalarOrSequence(t *testing.T) {
	scalar, err := LoadFromString("logging:\n  output: file\n")
	require.NoError(t, err)
	assert.Equal(t, StringSlice{"file"}, scalar.Logging.Output)

	seq, err := LoadFromString("logging:\n  output: [\"file\", \"stdout\"]\n")
	require.NoError(t, err)
	assert.Equal(t, StringSlice{"file", "stdout"}, seq.Logging.Output)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"bad scope", func(c *Config) { c.Index.DefaultScope = "custom" }, true},
		{"bad transport", func(c *Config) { c.MCP.Transport = "carrier-pigeon" }, true},
		{"zero capacity", func(c *Config) { c.Cache.CapacityEntries = 0 }, true},
		{"zero shutdown timeout", func(c *Config) { c.Service.ShutdownTimeout = 0 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.Index.ExcludeGlobs[0] = "mutated"
	clone.Logging.Output[0] = "mutated"

	assert.NotEqual(t, cfg.Index.ExcludeGlobs[0], clone.Index.ExcludeGlobs[0])
	assert.NotEqual(t, cfg.Logging.Output[0], clone.Logging.Output[0])
}

func TestProjectDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Service.Home = "/home/x/.serena"

	assert.Equal(t, "/home/x/.serena/projects", cfg.ProjectsDir())
	assert.Equal(t, "/home/x/.serena/projects/abc123", cfg.ProjectDir("abc123"))
}
