package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/logger"
	"github.com/ternarybob/serena/internal/project"
	"github.com/ternarybob/serena/internal/session"
	"github.com/ternarybob/serena/internal/store"
)

// Env is the explicit state every tool works against: no ambient
// singletons, everything reachable from the dispatch path.
type Env struct {
	Manager *project.Manager
	Store   *store.Store
	Session *session.State
}

// requireActive returns the active project bundle or a validation
// error naming the fix.
func (e *Env) requireActive() (*project.Active, error) {
	active := e.Manager.Active()
	if active == nil {
		return nil, errs.NewValidationError("project", "no project is active; call activate_project first")
	}
	return active, nil
}

// ToolInfo is the discoverable description of one enabled tool.
type ToolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"-"`
}

// Dispatcher owns the tool registry and enforces the contract around
// every call. Tool calls for the active project are serialized: one
// in flight at a time.
type Dispatcher struct {
	mu      sync.Mutex
	env     *Env
	tools   map[string]Tool
	order   []string
	context *RuntimeContext
}

// NewDispatcher builds a dispatcher with the full default tool set
// filtered at lookup time by the runtime context.
func NewDispatcher(env *Env, runtimeContext *RuntimeContext) *Dispatcher {
	d := &Dispatcher{
		env:     env,
		tools:   make(map[string]Tool),
		context: runtimeContext,
	}
	for _, t := range defaultTools(env, d) {
		d.register(t)
	}
	return d
}

func (d *Dispatcher) register(t Tool) {
	if _, exists := d.tools[t.Name()]; exists {
		panic(fmt.Sprintf("tools: duplicate registration of %q", t.Name()))
	}
	d.tools[t.Name()] = t
	d.order = append(d.order, t.Name())
	sort.Strings(d.order)
}

// projectToolFilters returns the active project's include/exclude
// lists, empty when no project is active.
func (d *Dispatcher) projectToolFilters() (included, excluded []string) {
	if active := d.env.Manager.Active(); active != nil {
		return active.Project.Config.IncludedTools, active.Project.Config.ExcludedTools
	}
	return nil, nil
}

// EnabledTools lists the tools discoverable in the current context.
func (d *Dispatcher) EnabledTools() []ToolInfo {
	included, excluded := d.projectToolFilters()

	var out []ToolInfo
	for _, name := range d.order {
		if !d.context.Enabled(name, included, excluded) {
			continue
		}
		t := d.tools[name]
		out = append(out, ToolInfo{Name: t.Name(), Description: t.Description(), Params: t.Params()})
	}
	return out
}

// EnabledToolNames lists just the names, for activation summaries.
func (d *Dispatcher) EnabledToolNames() []string {
	infos := d.EnabledTools()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

// Get returns a tool by name if it is enabled in this context. An
// unknown tool fails with a NotFoundError, a disabled one with a
// ValidationError.
func (d *Dispatcher) Get(name string) (Tool, error) {
	t, ok := d.tools[name]
	if !ok {
		return nil, errs.NewNotFoundError("tool", name)
	}
	included, excluded := d.projectToolFilters()
	if !d.context.Enabled(name, included, excluded) {
		return nil, errs.NewValidationError("tool", fmt.Sprintf("%q is disabled in context %q", name, d.context.Name))
	}
	return t, nil
}

// Call runs one tool invocation end to end: context check, parameter
// validation, verbosity resolution, the tool itself, token budgeting,
// and envelope assembly. Errors come back as (nil, err); the
// transport layer renders them.
func (d *Dispatcher) Call(ctx context.Context, name string, rawArgs map[string]any) (*Envelope, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.Get(name)
	if err != nil {
		return nil, err
	}

	budget, err := parseBudget(rawArgs)
	if err != nil {
		return nil, err
	}
	args, err := validateArgs(t.Params(), rawArgs)
	if err != nil {
		return nil, err
	}

	requested := session.VerbosityAuto
	if v, ok := rawArgs["verbosity"].(string); ok && v != "" {
		switch session.Verbosity(v) {
		case session.VerbosityMinimal, session.VerbosityNormal, session.VerbosityDetailed, session.VerbosityAuto:
			requested = session.Verbosity(v)
		default:
			return nil, errs.NewValidationError("verbosity", fmt.Sprintf("%q is not one of [minimal normal detailed auto]", v))
		}
	}
	level, reason := d.env.Session.ResolveVerbosity(requested)

	req := &Request{Args: args, Verbosity: level}
	result, err := t.Apply(ctx, req)

	// Record the invocation regardless of outcome; failed calls are
	// activity too.
	d.env.Session.Record(t.Name(), t.Kind(), req.AffectedFile)

	if err != nil {
		logger.GetLogger().Debug().Str("tool", name).Err(err).Msg("tool call failed")
		return nil, err
	}

	var suggestions []string
	if narrower, ok := t.(Narrower); ok {
		suggestions = narrower.NarrowingSuggestions(req)
	}
	result, truncMeta, err := applyBudget(result, budget, suggestions)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Result:     result,
		Schema:     SchemaVersion,
		Tokens:     &TokenMeta{Estimated: EstimateTokens(result), Budget: budget.maxTokens},
		Truncation: truncMeta,
		Deprecated: budget.deprecated,
		Verbosity:  &VerbosityMeta{Level: string(level), Reason: reason},
	}
	if warned, ok := result.(interface{ ResponseWarnings() []string }); ok {
		env.Warnings = warned.ResponseWarnings()
	}
	if dep, ok := result.(interface{ DeprecationNotes() []string }); ok {
		env.Deprecated = append(env.Deprecated, dep.DeprecationNotes()...)
	}
	if cacheInfo, ok := result.(interface{ CacheMeta() *CacheMeta }); ok {
		env.Cache = cacheInfo.CacheMeta()
	}
	return env, nil
}
