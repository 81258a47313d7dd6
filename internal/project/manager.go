package project

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ternarybob/serena/internal/cache"
	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/logger"
	lspregistry "github.com/ternarybob/serena/internal/lsp/registry"
	"github.com/ternarybob/serena/internal/lsp/sls"
)

// ConfigStore is the slice of the Centralized Store the manager
// needs. Implemented by internal/store.Store.
type ConfigStore interface {
	EnsureProjectDir(id string) error
	LoadProjectConfig(id string) (*Project, error)
	SaveProjectConfig(p *Project) error
	ListProjects() ([]*Project, error)
	ListMemoryNames(id string) ([]string, error)
}

// ManagerOptions carries the tunables the manager takes from global
// configuration.
type ManagerOptions struct {
	CacheCapacity     int
	ActivationTimeout time.Duration
	WatchFiles        bool
}

// Active bundles everything alive for the one active project: the
// record, its symbol cache (plus external-change watcher), and one
// SLS per LSP-capable language.
type Active struct {
	Project *Project
	Cache   *cache.Cache
	Servers map[string]*sls.Server

	watcher *cache.Watcher
}

// SLSFor returns the language server responsible for a file, chosen
// by extension, or nil when the file's language has none (non-LSP
// languages skip SLS entirely).
func (a *Active) SLSFor(backends *lspregistry.Registry, relativePath string) *sls.Server {
	ext := filepath.Ext(relativePath)
	for tag, server := range a.Servers {
		d, err := backends.Get(tag)
		if err != nil {
			continue
		}
		for _, e := range d.FileExtensions {
			if e == ext {
				return server
			}
		}
	}
	return nil
}

// States reports the SLS lifecycle per language, including non-LSP
// languages as uninitialized-free (they are simply absent).
func (a *Active) States() map[string]SLSState {
	out := make(map[string]SLSState, len(a.Servers))
	for tag, server := range a.Servers {
		out[tag] = SLSState(server.State())
	}
	return out
}

// Manager owns the single active project per session and implements
// the activation protocol. Methods are called under the dispatch
// layer's serialization, so the manager itself needs no lock beyond
// registry internals.
type Manager struct {
	store    ConfigStore
	backends *lspregistry.Registry
	registry *Registry
	opts     ManagerOptions

	active *Active
}

// NewManager builds a manager over the given store and backend
// registry, loading the known-project index from the store.
func NewManager(store ConfigStore, backends *lspregistry.Registry, opts ManagerOptions) (*Manager, error) {
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = cache.DefaultCapacity
	}
	if opts.ActivationTimeout <= 0 {
		opts.ActivationTimeout = sls.DefaultInitTimeout
	}

	m := &Manager{
		store:    store,
		backends: backends,
		registry: NewRegistry(),
		opts:     opts,
	}
	known, err := store.ListProjects()
	if err != nil {
		return nil, err
	}
	for _, p := range known {
		m.registry.Add(p)
	}
	return m, nil
}

// Registry exposes the known-project index.
func (m *Manager) Registry() *Registry { return m.registry }

// Backends exposes the language backend registry.
func (m *Manager) Backends() *lspregistry.Registry { return m.backends }

// Active returns the currently active project bundle, or nil.
func (m *Manager) Active() *Active { return m.active }

// ActivationResult is the activate_project summary.
type ActivationResult struct {
	Project     *Project `json:"project"`
	MemoryNames []string `json:"memory_names"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Activate resolves a project by name or absolute path, ensures its
// centralized state, and brings up its SLS pool. The previous active
// project, if any, is cleanly shut down first: at most one project is
// active per session.
func (m *Manager) Activate(ctx context.Context, nameOrPath string) (*ActivationResult, error) {
	p, err := m.resolve(nameOrPath)
	if err != nil {
		return nil, err
	}

	if m.active != nil {
		m.Deactivate(ctx)
	}

	// Ensure centralized state; regenerate project.yml from defaults
	// if the directory was deleted externally.
	if err := m.store.EnsureProjectDir(p.ID); err != nil {
		return nil, err
	}
	if _, err := m.store.LoadProjectConfig(p.ID); err != nil {
		if !errs.IsNotFound(err) {
			return nil, err
		}
		if err := m.store.SaveProjectConfig(p); err != nil {
			return nil, err
		}
	}
	m.registry.Add(p)

	active := &Active{
		Project: p,
		Cache:   cache.New(p.Root, m.opts.CacheCapacity),
		Servers: make(map[string]*sls.Server),
	}

	var warnings []string
	for _, lang := range p.Languages {
		d, err := m.backends.Get(lang)
		if err != nil || !d.SupportsLSP {
			continue
		}
		resolved, err := m.backends.Resolve(lang)
		if err != nil {
			warnings = append(warnings, err.Error())
			p.BackendStates[lang] = SLSTerminal
			continue
		}
		server := sls.New(sls.Options{
			Root:           p.Root,
			Backend:        resolved,
			InitTimeout:    m.opts.ActivationTimeout,
			InvalidateFile: active.Cache.InvalidateFile,
		})
		if err := server.Initialize(ctx); err != nil {
			warnings = append(warnings, err.Error())
			p.BackendStates[lang] = SLSTerminal
			continue
		}
		active.Servers[lang] = server
		p.BackendStates[lang] = SLSState(server.State())
	}

	if m.opts.WatchFiles {
		watcher, err := cache.NewWatcher(active.Cache, p.Root, SourceExcludedDirs)
		if err != nil {
			warnings = append(warnings, "file watcher unavailable: "+err.Error())
		} else if err := watcher.Start(); err != nil {
			warnings = append(warnings, "file watcher failed to start: "+err.Error())
		} else {
			active.watcher = watcher
		}
	}

	m.active = active

	memories, err := m.store.ListMemoryNames(p.ID)
	if err != nil {
		return nil, err
	}
	logger.GetLogger().Info().
		Str("project", p.ID).Str("root", p.Root).Strs("languages", p.Languages).
		Msg("project activated")

	return &ActivationResult{Project: p, MemoryNames: memories, Warnings: warnings}, nil
}

// resolve maps an activation argument to a Project record, preferring
// the topmost registered parent of a requested path.
func (m *Manager) resolve(nameOrPath string) (*Project, error) {
	if !filepath.IsAbs(nameOrPath) {
		if p, ok := m.registry.FindByName(nameOrPath); ok {
			return p, nil
		}
		return nil, errs.NewNotFoundError("project", nameOrPath)
	}

	abs := filepath.Clean(nameOrPath)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errs.NewNotFoundError("project root", abs)
	}
	if !info.IsDir() {
		return nil, errs.NewValidationError("project", abs+" is not a directory")
	}

	if p, ok := m.registry.FindParentOf(abs); ok {
		return p, nil
	}
	return New(abs, m.detectLanguages(abs)), nil
}

// detectLanguages maps the extensions present under a root to the
// registered language tags, ordered by file count so the dominant
// language comes first. A root with nothing recognizable still gets a
// non-empty list (markdown) so the Project record stays valid.
func (m *Manager) detectLanguages(root string) []string {
	extToTag := make(map[string]string)
	for _, tag := range m.backends.Languages() {
		d, err := m.backends.Get(tag)
		if err != nil {
			continue
		}
		for _, ext := range d.FileExtensions {
			extToTag[ext] = tag
		}
	}

	counts := make(map[string]int)
	scope := NewScope(root, ScopeSource)
	files, err := scope.ListFiles()
	if err == nil {
		for _, f := range files {
			if tag, ok := extToTag[filepath.Ext(f)]; ok {
				counts[tag]++
			}
		}
	}
	if len(counts) == 0 {
		return []string{"markdown"}
	}

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	return tags
}

// Deactivate shuts down the active project's SLS pool and watcher.
func (m *Manager) Deactivate(ctx context.Context) {
	if m.active == nil {
		return
	}
	if m.active.watcher != nil {
		_ = m.active.watcher.Stop()
	}
	for lang, server := range m.active.Servers {
		if err := server.Shutdown(ctx); err != nil {
			logger.GetLogger().Warn().Err(err).Str("language", lang).Msg("language server shutdown failed")
		}
		m.active.Project.BackendStates[lang] = SLSTerminal
	}
	m.active = nil
}

// RestartServers restarts every SLS of the active project, replacing
// terminal instances with fresh ones.
func (m *Manager) RestartServers(ctx context.Context) (map[string]SLSState, error) {
	if m.active == nil {
		return nil, errs.NewValidationError("project", "no project is active")
	}

	for lang, server := range m.active.Servers {
		if server.State() == sls.StateTerminal {
			resolved, err := m.backends.Resolve(lang)
			if err != nil {
				m.active.Project.BackendStates[lang] = SLSTerminal
				continue
			}
			fresh := sls.New(sls.Options{
				Root:           m.active.Project.Root,
				Backend:        resolved,
				InitTimeout:    m.opts.ActivationTimeout,
				InvalidateFile: m.active.Cache.InvalidateFile,
			})
			if err := fresh.Initialize(ctx); err != nil {
				m.active.Project.BackendStates[lang] = SLSTerminal
				continue
			}
			m.active.Servers[lang] = fresh
		} else if err := server.Restart(ctx); err != nil {
			m.active.Project.BackendStates[lang] = SLSTerminal
			continue
		}
		m.active.Project.BackendStates[lang] = SLSState(m.active.Servers[lang].State())
	}
	return m.active.States(), nil
}
