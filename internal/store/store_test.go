package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/project"
)

func TestLoadProjectConfig_MissingIsNotFound(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.LoadProjectConfig("doesnotexist")
	assert.True(t, errs.IsNotFound(err))
}

func TestSaveThenLoadProjectConfig_RoundTrips(t *testing.T) {
	s := New(t.TempDir())

	p := project.New("/tmp/p", []string{"go"})
	require.NoError(t, s.SaveProjectConfig(p))

	loaded, err := s.LoadProjectConfig(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, loaded.ID)
	assert.Equal(t, p.Root, loaded.Root)
	assert.Equal(t, p.Languages, loaded.Languages)
}

func TestSaveProjectConfig_NoInProjectDirectoryWritten(t *testing.T) {
	home := t.TempDir()
	projectRoot := t.TempDir()
	s := New(home)

	p := project.New(projectRoot, []string{"go"})
	require.NoError(t, s.SaveProjectConfig(p))

	_, statErr := os.Stat(filepath.Join(projectRoot, ".serena"))
	assert.True(t, os.IsNotExist(statErr), "no .serena directory should be created inside the project root")
}

func TestWriteReadDeleteMemory_RoundTrips(t *testing.T) {
	s := New(t.TempDir())
	id := "proj1"

	require.NoError(t, s.WriteMemory(id, "notes", "hello\nworld\n"))

	content, err := s.ReadMemory(id, "notes")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", content)

	require.NoError(t, s.DeleteMemory(id, "notes"))

	_, err = s.ReadMemory(id, "notes")
	assert.True(t, errs.IsNotFound(err))
}

func TestDeleteMemory_MissingIsNotFound(t *testing.T) {
	s := New(t.TempDir())
	err := s.DeleteMemory("proj1", "nope")
	assert.True(t, errs.IsNotFound(err))
}

func TestListMemories_EmptyBeforeAnyWrite(t *testing.T) {
	s := New(t.TempDir())
	infos, err := s.ListMemories("proj1", 0)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestListMemories_MetadataAndPreview(t *testing.T) {
	s := New(t.TempDir())
	id := "proj1"

	require.NoError(t, s.WriteMemory(id, "b-note", "line1\nline2\nline3\nline4\n"))
	require.NoError(t, s.WriteMemory(id, "a-note", "only one line\n"))

	infos, err := s.ListMemories(id, 2)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	// Sorted by name.
	assert.Equal(t, "a-note", infos[0].Name)
	assert.Equal(t, "b-note", infos[1].Name)

	assert.Equal(t, "line1\nline2\n", infos[1].Preview)
	assert.Equal(t, 4, infos[1].Lines)
	assert.Greater(t, infos[1].EstimatedTokens, 0)
}

func TestListMemoryNames(t *testing.T) {
	s := New(t.TempDir())
	id := "proj1"
	require.NoError(t, s.WriteMemory(id, "alpha", "x"))
	require.NoError(t, s.WriteMemory(id, "beta", "y"))

	names, err := s.ListMemoryNames(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestWriteMemory_OverwritesFully(t *testing.T) {
	s := New(t.TempDir())
	id := "proj1"
	require.NoError(t, s.WriteMemory(id, "n", "first version, much longer than the second"))
	require.NoError(t, s.WriteMemory(id, "n", "short"))

	content, err := s.ReadMemory(id, "n")
	require.NoError(t, err)
	assert.Equal(t, "short", content)
}

func TestListProjects_ReadsEveryProjectYML(t *testing.T) {
	s := New(t.TempDir())

	p1 := project.New("/tmp/a", []string{"go"})
	p2 := project.New("/tmp/b", []string{"python"})
	require.NoError(t, s.SaveProjectConfig(p1))
	require.NoError(t, s.SaveProjectConfig(p2))

	// A stray directory without project.yml is skipped, not fatal.
	require.NoError(t, s.EnsureProjectDir("orphan"))

	projects, err := s.ListProjects()
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "/tmp/a", projects[0].Root)
	assert.Equal(t, "/tmp/b", projects[1].Root)
}

func TestListProjects_EmptyHome(t *testing.T) {
	s := New(t.TempDir())
	projects, err := s.ListProjects()
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestEnsureProjectDir(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.EnsureProjectDir("proj1"))
	assert.DirExists(t, filepath.Join(s.Home(), "projects", "proj1", "memories"))
}
