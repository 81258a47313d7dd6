package project

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry is the in-memory index of known projects, populated from
// the Centralized Store at startup and kept current as projects are
// registered. The store's project.yml files are the durable record;
// this is only the lookup structure over them.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Project
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Project)}
}

// Add registers or replaces a project.
func (r *Registry) Add(p *Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
}

// Get returns a project by id.
func (r *Registry) Get(id string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// FindByName matches a project by id or by its root's base name.
func (r *Registry) FindByName(name string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.byID[name]; ok {
		return p, true
	}
	for _, p := range r.byID {
		if filepath.Base(p.Root) == name {
			return p, true
		}
	}
	return nil, false
}

// FindParentOf returns the topmost registered project whose root
// contains absPath (or is absPath itself). A single-project session
// always activates the topmost registered parent.
func (r *Registry) FindParentOf(absPath string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	absPath = filepath.Clean(absPath)
	var candidates []*Project
	for _, p := range r.byID {
		root := filepath.Clean(p.Root)
		if absPath == root || strings.HasPrefix(absPath+string(filepath.Separator), root+string(filepath.Separator)) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return len(filepath.Clean(candidates[i].Root)) < len(filepath.Clean(candidates[j].Root))
	})
	return candidates[0], true
}

// List returns every registered project, sorted by root.
func (r *Registry) List() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Project, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}
