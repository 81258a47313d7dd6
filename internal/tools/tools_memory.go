package tools

import (
	"context"

	"github.com/ternarybob/serena/internal/session"
	"github.com/ternarybob/serena/internal/store"
)

type listMemories struct {
	toolBase
	env *Env
}

func newListMemories(env *Env) *listMemories {
	return &listMemories{
		toolBase: toolBase{
			name:        "list_memories",
			description: "List the active project's memory notes. Metadata with a short preview is the default so notes need not be read one by one.",
			kind:        session.KindMemory,
			params: []ParamSpec{
				{Name: "include_metadata", Type: TypeBool, Default: true, Description: "Include size, timestamps, token estimates, and a preview"},
				{Name: "preview_lines", Type: TypeInt, Default: 3, Description: "Lines of preview per note"},
			},
		},
		env: env,
	}
}

func (t *listMemories) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}

	if !req.Bool("include_metadata") {
		names, err := t.env.Store.ListMemoryNames(active.Project.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"names": names}, nil
	}

	infos, err := t.env.Store.ListMemories(active.Project.ID, req.Int("preview_lines"))
	if err != nil {
		return nil, err
	}
	if infos == nil {
		infos = []store.MemoryInfo{}
	}
	return map[string]any{"memories": infos}, nil
}

type readMemory struct {
	toolBase
	env *Env
}

func newReadMemory(env *Env) *readMemory {
	return &readMemory{
		toolBase: toolBase{
			name:        "read_memory",
			description: "Read the full content of one memory note.",
			kind:        session.KindMemory,
			params: []ParamSpec{
				{Name: "name", Type: TypeString, Required: true, Description: "Memory note name"},
			},
		},
		env: env,
	}
}

func (t *readMemory) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	content, err := t.env.Store.ReadMemory(active.Project.ID, req.String("name"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": req.String("name"), "content": content}, nil
}

type writeMemory struct {
	toolBase
	env *Env
}

func newWriteMemory(env *Env) *writeMemory {
	return &writeMemory{
		toolBase: toolBase{
			name:        "write_memory",
			description: "Create or overwrite a memory note. Writes are atomic; notes are never partially mutated.",
			kind:        session.KindMemory,
			params: []ParamSpec{
				{Name: "name", Type: TypeString, Required: true, Description: "Memory note name"},
				{Name: "content", Type: TypeString, Required: true, Description: "Full note content"},
			},
		},
		env: env,
	}
}

func (t *writeMemory) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	if err := t.env.Store.WriteMemory(active.Project.ID, req.String("name"), req.String("content")); err != nil {
		return nil, err
	}
	return map[string]any{"status": "written", "name": req.String("name")}, nil
}

type deleteMemory struct {
	toolBase
	env *Env
}

func newDeleteMemory(env *Env) *deleteMemory {
	return &deleteMemory{
		toolBase: toolBase{
			name:        "delete_memory",
			description: "Delete a memory note by name.",
			kind:        session.KindMemory,
			params: []ParamSpec{
				{Name: "name", Type: TypeString, Required: true, Description: "Memory note name"},
			},
		},
		env: env,
	}
}

func (t *deleteMemory) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	if err := t.env.Store.DeleteMemory(active.Project.ID, req.String("name")); err != nil {
		return nil, err
	}
	return map[string]any{"status": "deleted", "name": req.String("name")}, nil
}
