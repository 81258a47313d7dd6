package tools

import (
	"context"

	"github.com/ternarybob/serena/internal/editor"
	"github.com/ternarybob/serena/internal/project"
	"github.com/ternarybob/serena/internal/session"
)

// renderEditResponse renders an editor response per the requested
// response_format: diff (default, a fraction of the cost of full),
// summary, or full.
func renderEditResponse(resp *editor.Response, format string) any {
	out := map[string]any{
		"status":            resp.Status,
		"relative_path":     resp.RelativePath,
		"cache_invalidated": resp.CacheInvalidated,
	}
	switch format {
	case "summary":
		out["lines_changed"] = resp.LinesChanged
	case "full":
		out["diff"] = resp.Diff
		out["lines_changed"] = resp.LinesChanged
		out["new_content"] = resp.NewContent
	default:
		out["diff"] = resp.Diff
	}
	return out
}

var responseFormatParam = ParamSpec{
	Name: "response_format", Type: TypeString, Default: "diff",
	Enum:        []string{"diff", "summary", "full"},
	Description: "How much of the change to echo back",
}

// editEnv bundles what every mutating tool needs for one call.
func (e *Env) editEnv(active *project.Active) (*editor.Editor, error) {
	return editor.New(active.Project.Root, active.Cache), nil
}

type replaceSymbolBody struct {
	toolBase
	env *Env
}

func newReplaceSymbolBody(env *Env) *replaceSymbolBody {
	return &replaceSymbolBody{
		toolBase: toolBase{
			name:        "replace_symbol_body",
			description: "Replace the full source of a symbol, preserving its original indentation.",
			kind:        session.KindEdit,
			params: []ParamSpec{
				{Name: "name_path", Type: TypeString, Required: true},
				{Name: "relative_path", Type: TypeString, Required: true},
				{Name: "new_body", Type: TypeString, Required: true},
				responseFormatParam,
			},
		},
		env: env,
	}
}

func (t *replaceSymbolBody) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	relativePath := req.String("relative_path")
	req.Touch(relativePath)

	srv, err := t.env.slsFor(active, relativePath)
	if err != nil {
		return nil, err
	}
	ed, _ := t.env.editEnv(active)
	resp, err := ed.ReplaceSymbolBody(ctx, srv, req.String("name_path"), relativePath, req.String("new_body"))
	if err != nil {
		return nil, err
	}
	return renderEditResponse(resp, req.String("response_format")), nil
}

type insertBeforeSymbol struct {
	toolBase
	env *Env
}

func newInsertBeforeSymbol(env *Env) *insertBeforeSymbol {
	return &insertBeforeSymbol{
		toolBase: toolBase{
			name:        "insert_before_symbol",
			description: "Insert text on a fresh line before a symbol's range.",
			kind:        session.KindEdit,
			params: []ParamSpec{
				{Name: "name_path", Type: TypeString, Required: true},
				{Name: "relative_path", Type: TypeString, Required: true},
				{Name: "new_text", Type: TypeString, Required: true},
				responseFormatParam,
			},
		},
		env: env,
	}
}

func (t *insertBeforeSymbol) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	relativePath := req.String("relative_path")
	req.Touch(relativePath)

	srv, err := t.env.slsFor(active, relativePath)
	if err != nil {
		return nil, err
	}
	ed, _ := t.env.editEnv(active)
	resp, err := ed.InsertBeforeSymbol(ctx, srv, req.String("name_path"), relativePath, req.String("new_text"))
	if err != nil {
		return nil, err
	}
	return renderEditResponse(resp, req.String("response_format")), nil
}

type insertAfterSymbol struct {
	toolBase
	env *Env
}

func newInsertAfterSymbol(env *Env) *insertAfterSymbol {
	return &insertAfterSymbol{
		toolBase: toolBase{
			name:        "insert_after_symbol",
			description: "Insert text on a fresh line after a symbol's range.",
			kind:        session.KindEdit,
			params: []ParamSpec{
				{Name: "name_path", Type: TypeString, Required: true},
				{Name: "relative_path", Type: TypeString, Required: true},
				{Name: "new_text", Type: TypeString, Required: true},
				responseFormatParam,
			},
		},
		env: env,
	}
}

func (t *insertAfterSymbol) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	relativePath := req.String("relative_path")
	req.Touch(relativePath)

	srv, err := t.env.slsFor(active, relativePath)
	if err != nil {
		return nil, err
	}
	ed, _ := t.env.editEnv(active)
	resp, err := ed.InsertAfterSymbol(ctx, srv, req.String("name_path"), relativePath, req.String("new_text"))
	if err != nil {
		return nil, err
	}
	return renderEditResponse(resp, req.String("response_format")), nil
}

type regexReplace struct {
	toolBase
	env *Env
}

func newRegexReplace(env *Env) *regexReplace {
	return &regexReplace{
		toolBase: toolBase{
			name:        "regex_replace",
			description: "Apply a language-agnostic regex substitution to one file. Refuses multiple matches unless allow_multiple is set.",
			kind:        session.KindEdit,
			params: []ParamSpec{
				{Name: "relative_path", Type: TypeString, Required: true},
				{Name: "pattern", Type: TypeString, Required: true},
				{Name: "replacement", Type: TypeString, Required: true},
				{Name: "allow_multiple", Type: TypeBool, Default: false},
				responseFormatParam,
			},
		},
		env: env,
	}
}

func (t *regexReplace) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	relativePath := req.String("relative_path")
	req.Touch(relativePath)

	// The regex path works for any file; an open language server just
	// gets told about the change afterwards.
	var notifier editor.ChangeNotifier
	if srv := active.SLSFor(t.env.Manager.Backends(), relativePath); srv != nil {
		notifier = srv
	}

	ed, _ := t.env.editEnv(active)
	resp, err := ed.RegexReplace(ctx, relativePath, req.String("pattern"), req.String("replacement"), req.Bool("allow_multiple"), notifier)
	if err != nil {
		return nil, err
	}
	return renderEditResponse(resp, req.String("response_format")), nil
}
