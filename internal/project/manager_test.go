package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/serena/internal/errs"
	lspregistry "github.com/ternarybob/serena/internal/lsp/registry"
)

// memStore is an in-memory ConfigStore for manager tests.
type memStore struct {
	projects map[string]*Project
	memories map[string][]string
	ensured  []string
}

func newMemStore() *memStore {
	return &memStore{
		projects: make(map[string]*Project),
		memories: make(map[string][]string),
	}
}

func (s *memStore) EnsureProjectDir(id string) error {
	s.ensured = append(s.ensured, id)
	return nil
}

func (s *memStore) LoadProjectConfig(id string) (*Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, errs.NewNotFoundError("project.yml", id)
	}
	return p, nil
}

func (s *memStore) SaveProjectConfig(p *Project) error {
	s.projects[p.ID] = p
	return nil
}

func (s *memStore) ListProjects() ([]*Project, error) {
	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) ListMemoryNames(id string) ([]string, error) {
	return s.memories[id], nil
}

func mdOnlyRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# readme\n"), 0o644))
	return root
}

func newTestManager(t *testing.T, st ConfigStore) *Manager {
	t.Helper()
	m, err := NewManager(st, lspregistry.New(), ManagerOptions{})
	require.NoError(t, err)
	return m
}

func TestActivate_FreshProjectRegistersAndSavesConfig(t *testing.T) {
	st := newMemStore()
	m := newTestManager(t, st)
	root := mdOnlyRoot(t)

	result, err := m.Activate(context.Background(), root)
	require.NoError(t, err)

	p := result.Project
	assert.Equal(t, IDFor(root), p.ID)
	assert.Equal(t, []string{"markdown"}, p.Languages)
	assert.Empty(t, result.MemoryNames)

	// Centralized state was created and persisted.
	assert.Contains(t, st.ensured, p.ID)
	_, ok := st.projects[p.ID]
	assert.True(t, ok)

	// Markdown has no LSP backend, so no SLS was built.
	require.NotNil(t, m.Active())
	assert.Empty(t, m.Active().Servers)
}

func TestActivate_NamedProjectMustBeKnown(t *testing.T) {
	m := newTestManager(t, newMemStore())

	_, err := m.Activate(context.Background(), "unknown-name")
	assert.True(t, errs.IsNotFound(err))
}

func TestActivate_ParentProjectWins(t *testing.T) {
	st := newMemStore()
	root := mdOnlyRoot(t)
	sub := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	parent := New(root, []string{"markdown"})
	st.projects[parent.ID] = parent

	m := newTestManager(t, st)
	result, err := m.Activate(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, result.Project.ID)
}

func TestActivate_ReplacesPreviousProject(t *testing.T) {
	st := newMemStore()
	m := newTestManager(t, st)
	rootA := mdOnlyRoot(t)
	rootB := mdOnlyRoot(t)

	_, err := m.Activate(context.Background(), rootA)
	require.NoError(t, err)
	first := m.Active()

	_, err = m.Activate(context.Background(), rootB)
	require.NoError(t, err)
	second := m.Active()

	assert.NotEqual(t, first.Project.ID, second.Project.ID)
	assert.Equal(t, IDFor(rootB), second.Project.ID)
}

func TestActivate_MissingRootIsNotFound(t *testing.T) {
	m := newTestManager(t, newMemStore())

	_, err := m.Activate(context.Background(), "/does/not/exist")
	assert.True(t, errs.IsNotFound(err))
}

func TestDeactivate_ClearsActive(t *testing.T) {
	m := newTestManager(t, newMemStore())
	_, err := m.Activate(context.Background(), mdOnlyRoot(t))
	require.NoError(t, err)

	m.Deactivate(context.Background())
	assert.Nil(t, m.Active())
}

func TestRestartServers_RequiresActiveProject(t *testing.T) {
	m := newTestManager(t, newMemStore())

	_, err := m.RestartServers(context.Background())
	assert.True(t, errs.IsValidation(err))
}

func TestDetectLanguages_DominantFirst(t *testing.T) {
	root := t.TempDir()
	mk := func(rel string) {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x\n"), 0o644))
	}
	mk("a.py")
	mk("b.py")
	mk("c.go")

	m := newTestManager(t, newMemStore())
	langs := m.detectLanguages(root)
	require.NotEmpty(t, langs)
	assert.Equal(t, "python", langs[0])
	assert.Contains(t, langs, "go")
}
