// Package config provides configuration management for the Serena
// service: the global service config at ~/.serena/serena_config.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the global Serena service configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	MCP     MCPConfig     `yaml:"mcp"`
	Index   IndexConfig   `yaml:"index"`
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Home            string `yaml:"home"`
	DefaultContext  string `yaml:"default_context"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_seconds"`
}

// MCPConfig contains MCP surface settings.
type MCPConfig struct {
	Transport string `yaml:"transport"` // "stdio" or "http"
	HTTPAddr  string `yaml:"http_addr"`
}

// IndexConfig contains the defaults fed to the Project Model's file
// enumeration and the Language Backend Registry's initialization
// timeout.
type IndexConfig struct {
	ExcludeGlobs        []string `yaml:"exclude_globs"`
	DefaultScope        string   `yaml:"default_scope"` // "all" or "source"
	ActivationTimeoutMS int      `yaml:"activation_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string      `yaml:"level"`
	Format     string      `yaml:"format"`
	Output     StringSlice `yaml:"output"`
	TimeFormat string      `yaml:"time_format"`
	MaxSizeMB  int         `yaml:"max_size_mb"`
	MaxBackups int         `yaml:"max_backups"`
	MaxAgeDays int         `yaml:"max_age_days"`
	Compress   bool        `yaml:"compress"`
}

// CacheConfig contains Symbol Cache defaults.
type CacheConfig struct {
	CapacityEntries int `yaml:"capacity_entries"`
}

// StringSlice is a custom type that can unmarshal from either a scalar
// string or a YAML sequence of strings.
type StringSlice []string

// UnmarshalYAML implements yaml.Unmarshaler for flexible config parsing.
func (s *StringSlice) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = []string{single}
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*s = items
	default:
		return fmt.Errorf("expected scalar or sequence for output, got kind %v", value.Kind)
	}
	return nil
}

// DefaultConfig returns the default configuration with all values set.
// The environment variable SERENA_HOME overrides the data home.
func DefaultConfig() *Config {
	home := DefaultHome()
	if envHome := os.Getenv("SERENA_HOME"); envHome != "" {
		home = envHome
	}

	return &Config{
		Service: ServiceConfig{
			Home:            home,
			DefaultContext:  "agent",
			ShutdownTimeout: 10,
		},
		MCP: MCPConfig{
			Transport: "stdio",
			HTTPAddr:  "127.0.0.1:9121",
		},
		Index: IndexConfig{
			ExcludeGlobs: []string{
				"node_modules/**", ".next/**", ".nuxt/**", "__pycache__/**",
				".venv/**", "venv/**", ".pytest_cache/**", ".mypy_cache/**",
				"*.egg-info/**", "dist/**", "build/**", "target/**",
				".git/**", "coverage/**", "htmlcov/**", "wheelhouse/**",
				"vendor/**", "migrations/**",
			},
			DefaultScope:        "source",
			ActivationTimeoutMS: 10000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     StringSlice{"file"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Cache: CacheConfig{
			CapacityEntries: 500,
		},
	}
}

// DefaultHome returns the default Serena home directory based on OS,
// absent a SERENA_HOME override.
func DefaultHome() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, ".serena")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", ".serena")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", ".serena")
	default: // linux and others
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, ".serena")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".serena")
	}
}

// DefaultConfigPath returns the default global config file path,
// under SERENA_HOME when it is set and DefaultHome otherwise.
func DefaultConfigPath() string {
	home := DefaultHome()
	if envHome := os.Getenv("SERENA_HOME"); envHome != "" {
		home = envHome
	}
	return filepath.Join(home, "serena_config.yml")
}

// Load loads configuration from a file, merging with defaults. A
// missing file is not an error: defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.expandPaths()

	return cfg, nil
}

// LoadFromString loads configuration from a YAML string, merging with
// defaults. Used by tests.
func LoadFromString(yamlStr string) (*Config, error) {
	cfg := DefaultConfig()

	expanded := os.ExpandEnv(yamlStr)

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config string: %w", err)
	}

	cfg.expandPaths()
	return cfg, nil
}

// expandPaths expands a leading "~/" in path fields.
func (c *Config) expandPaths() {
	home, _ := os.UserHomeDir()

	expandTilde := func(path string) string {
		if strings.HasPrefix(path, "~/") {
			return filepath.Join(home, path[2:])
		}
		return path
	}

	c.Service.Home = expandTilde(c.Service.Home)
}

// Save saves the configuration to a file in YAML format, creating the
// parent directory if necessary.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config file: %w", err)
	}

	return nil
}

// ProjectsDir returns the path to the centralized projects directory.
func (c *Config) ProjectsDir() string {
	return filepath.Join(c.Service.Home, "projects")
}

// ProjectDir returns the centralized directory for a given project id.
func (c *Config) ProjectDir(projectID string) string {
	return filepath.Join(c.ProjectsDir(), projectID)
}

// Validate validates the configuration and returns a descriptive
// error for the first problem found.
func (c *Config) Validate() error {
	if c.Service.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout_seconds must be at least 1")
	}
	if c.Index.ActivationTimeoutMS < 1 {
		return fmt.Errorf("activation_timeout_ms must be at least 1")
	}
	if c.Cache.CapacityEntries < 1 {
		return fmt.Errorf("cache.capacity_entries must be at least 1")
	}
	switch c.Index.DefaultScope {
	case "all", "source":
	default:
		return fmt.Errorf("index.default_scope must be \"all\" or \"source\", got %q", c.Index.DefaultScope)
	}
	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("mcp.transport must be \"stdio\" or \"http\", got %q", c.MCP.Transport)
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c

	clone.Index.ExcludeGlobs = make([]string, len(c.Index.ExcludeGlobs))
	copy(clone.Index.ExcludeGlobs, c.Index.ExcludeGlobs)

	clone.Logging.Output = make(StringSlice, len(c.Logging.Output))
	copy(clone.Logging.Output, c.Logging.Output)

	return &clone
}
