// Package project defines the Project data model and the registry
// and manager that implement the activation/lifecycle protocol on top
// of it.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"
)

// SLSState mirrors the Solid Language Server state machine, surfaced
// per-language so activation summaries and restart_language_server
// can report it without reaching into internal/lsp/sls directly.
type SLSState string

const (
	SLSUninitialized SLSState = "uninitialized"
	SLSInitializing  SLSState = "initializing"
	SLSReady         SLSState = "ready"
	SLSRestarting    SLSState = "restarting"
	SLSShuttingDown  SLSState = "shutting_down"
	SLSTerminal      SLSState = "terminal"
)

// ScopeMode selects which files a search_scope="source" query
// considers part of the project.
type ScopeMode string

const (
	ScopeAll    ScopeMode = "all"
	ScopeSource ScopeMode = "source"
)

// Config is the persisted, user-editable portion of a Project: the
// part written to project.yml.
type Config struct {
	InitialPrompt string    `yaml:"initial_prompt,omitempty" json:"initial_prompt,omitempty"`
	IncludedTools []string  `yaml:"included_tools,omitempty" json:"included_tools,omitempty"`
	ExcludedTools []string  `yaml:"excluded_tools,omitempty" json:"excluded_tools,omitempty"`
	ScopeMode     ScopeMode `yaml:"scope_mode" json:"scope_mode"`
}

// DefaultConfig returns the Config applied to a freshly activated
// project that has never been configured before.
func DefaultConfig() Config {
	return Config{ScopeMode: ScopeSource}
}

// Project is the in-memory and on-disk (project.yml) record for an
// activated project root.
type Project struct {
	ID        string    `yaml:"id" json:"id"`
	Root      string    `yaml:"root" json:"root"`
	Languages []string  `yaml:"languages" json:"languages"`
	Config    Config    `yaml:"config" json:"config"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`

	// BackendStates is runtime-observed, not persisted: it reflects
	// the live SLS pool for the currently active instance of this
	// Project, not a durable fact about the project itself.
	BackendStates map[string]SLSState `yaml:"-" json:"backend_states,omitempty"`
}

// DominantLanguage returns the first (primary) language tag, or "" if
// the project has none configured.
func (p *Project) DominantLanguage() string {
	if len(p.Languages) == 0 {
		return ""
	}
	return p.Languages[0]
}

// IDFor derives the stable project identifier from a canonicalized
// absolute root path: the first 16 hex characters of its SHA-256
// hash, matching the Centralized Store's {project-id} directory name.
func IDFor(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	abs = filepath.Clean(abs)

	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16]
}

// New constructs a fresh Project record for a canonical root and
// detected languages, with default configuration.
func New(root string, languages []string) *Project {
	now := time.Now()
	return &Project{
		ID:            IDFor(root),
		Root:          root,
		Languages:     languages,
		Config:        DefaultConfig(),
		CreatedAt:     now,
		UpdatedAt:     now,
		BackendStates: make(map[string]SLSState),
	}
}
