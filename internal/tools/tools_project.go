package tools

import (
	"context"

	"github.com/ternarybob/serena/internal/project"
	"github.com/ternarybob/serena/internal/session"
)

// toolBase carries the declarative half of the contract; concrete
// tools embed it and implement Apply.
type toolBase struct {
	name        string
	description string
	kind        session.Kind
	params      []ParamSpec
}

func (b *toolBase) Name() string        { return b.name }
func (b *toolBase) Description() string { return b.description }
func (b *toolBase) Kind() session.Kind  { return b.kind }
func (b *toolBase) Params() []ParamSpec { return b.params }

// defaultTools builds the full tool set. The dispatcher is passed in
// so activation summaries can list the enabled tool names.
func defaultTools(env *Env, d *Dispatcher) []Tool {
	return []Tool{
		newActivateProject(env, d),
		newRestartLanguageServer(env),
		newGetSymbolsOverview(env),
		newFindSymbol(env),
		newFindReferencingSymbols(env),
		newGetSymbolBody(env),
		newReplaceSymbolBody(env),
		newInsertBeforeSymbol(env),
		newInsertAfterSymbol(env),
		newRegexReplace(env),
		newSearchForPattern(env),
		newListDir(env),
		newReadFile(env),
		newCreateTextFile(env),
		newFindFile(env),
		newListMemories(env),
		newReadMemory(env),
		newWriteMemory(env),
		newDeleteMemory(env),
	}
}

type activateProject struct {
	toolBase
	env *Env
	d   *Dispatcher
}

func newActivateProject(env *Env, d *Dispatcher) *activateProject {
	return &activateProject{
		toolBase: toolBase{
			name:        "activate_project",
			description: "Activate a project by registered name or absolute root path. Replaces any previously active project.",
			kind:        session.KindRead,
			params: []ParamSpec{
				{Name: "project", Type: TypeString, Required: true, Description: "Project name or absolute root path"},
			},
		},
		env: env,
		d:   d,
	}
}

// activationSummary is the activate_project result payload.
type activationSummary struct {
	Project        *project.Project `json:"project"`
	AvailableTools []string         `json:"available_tools"`
	MemoryNames    []string         `json:"memory_names"`
	warnings       []string
}

func (a *activationSummary) ResponseWarnings() []string { return a.warnings }

func (t *activateProject) Apply(ctx context.Context, req *Request) (any, error) {
	result, err := t.env.Manager.Activate(ctx, req.String("project"))
	if err != nil {
		return nil, err
	}
	return &activationSummary{
		Project:        result.Project,
		AvailableTools: t.d.EnabledToolNames(),
		MemoryNames:    result.MemoryNames,
		warnings:       result.Warnings,
	}, nil
}

type restartLanguageServer struct {
	toolBase
	env *Env
}

func newRestartLanguageServer(env *Env) *restartLanguageServer {
	return &restartLanguageServer{
		toolBase: toolBase{
			name:        "restart_language_server",
			description: "Restart the active project's language servers after a crash or hang.",
			kind:        session.KindRead,
		},
		env: env,
	}
}

func (t *restartLanguageServer) Apply(ctx context.Context, req *Request) (any, error) {
	if _, err := t.env.requireActive(); err != nil {
		return nil, err
	}
	states, err := t.env.Manager.RestartServers(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":         "restarted",
		"backend_states": states,
	}, nil
}
