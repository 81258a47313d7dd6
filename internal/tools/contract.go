// Package tools implements the tool dispatch and contract layer:
// parameter validation, per-context enable/disable, verbosity
// resolution, token estimation, and token-aware truncation, plus the
// concrete tool set itself.
package tools

import (
	"context"
	"fmt"

	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/session"
)

// ParamType constrains a tool parameter's JSON shape.
type ParamType string

const (
	TypeString     ParamType = "string"
	TypeInt        ParamType = "int"
	TypeBool       ParamType = "bool"
	TypeStringList ParamType = "string_list"
)

// ParamSpec declares one named, strictly typed tool parameter.
type ParamSpec struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Enum        []string
	Description string
}

// Tool is the contract every tool satisfies. Validation happens in
// the dispatcher before Apply is invoked; Apply sees coerced,
// defaulted arguments.
type Tool interface {
	Name() string
	Description() string
	Kind() session.Kind
	Params() []ParamSpec
	Apply(ctx context.Context, req *Request) (any, error)
}

// Narrower lets a tool contribute specific narrowing suggestions to a
// TruncationError payload; tools without it get generic ones.
type Narrower interface {
	NarrowingSuggestions(req *Request) []string
}

// Request carries validated arguments into a tool.
type Request struct {
	Args      map[string]any
	Verbosity session.Verbosity

	// AffectedFile is set by the tool (via Touch) so the dispatcher
	// can record which file a read or edit touched.
	AffectedFile string
}

// Touch records the file a call affected, feeding phase detection.
func (r *Request) Touch(relativePath string) { r.AffectedFile = relativePath }

// String returns a string argument (validated earlier).
func (r *Request) String(name string) string {
	v, _ := r.Args[name].(string)
	return v
}

// Int returns an int argument.
func (r *Request) Int(name string) int {
	switch v := r.Args[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Bool returns a bool argument.
func (r *Request) Bool(name string) bool {
	v, _ := r.Args[name].(bool)
	return v
}

// StringList returns a list-of-strings argument.
func (r *Request) StringList(name string) []string {
	switch v := r.Args[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Has reports whether the caller supplied the argument at all.
func (r *Request) Has(name string) bool {
	_, ok := r.Args[name]
	return ok
}

// validateArgs coerces raw arguments against the specs, applying
// defaults and rejecting unknown names, missing required parameters,
// wrong types, and out-of-enum values.
func validateArgs(specs []ParamSpec, raw map[string]any) (map[string]any, error) {
	byName := make(map[string]ParamSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}
	for name := range raw {
		if _, ok := byName[name]; !ok && !isEnvelopeParam(name) {
			return nil, errs.NewValidationError(name, "unknown parameter")
		}
	}

	out := make(map[string]any, len(specs))
	for _, spec := range specs {
		v, present := raw[spec.Name]
		if !present || v == nil {
			if spec.Required {
				return nil, errs.NewValidationError(spec.Name, "required parameter missing")
			}
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}

		coerced, err := coerce(spec, v)
		if err != nil {
			return nil, err
		}
		out[spec.Name] = coerced
	}
	return out, nil
}

func coerce(spec ParamSpec, v any) (any, error) {
	switch spec.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, errs.NewValidationError(spec.Name, fmt.Sprintf("expected string, got %T", v))
		}
		if len(spec.Enum) > 0 {
			for _, allowed := range spec.Enum {
				if s == allowed {
					return s, nil
				}
			}
			return nil, errs.NewValidationError(spec.Name, fmt.Sprintf("%q is not one of %v", s, spec.Enum))
		}
		return s, nil
	case TypeInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case float64:
			if n != float64(int(n)) {
				return nil, errs.NewValidationError(spec.Name, "expected integer, got fraction")
			}
			return int(n), nil
		}
		return nil, errs.NewValidationError(spec.Name, fmt.Sprintf("expected integer, got %T", v))
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, errs.NewValidationError(spec.Name, fmt.Sprintf("expected boolean, got %T", v))
		}
		return b, nil
	case TypeStringList:
		switch list := v.(type) {
		case []string:
			return list, nil
		case []any:
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, errs.NewValidationError(spec.Name, "expected list of strings")
				}
				out = append(out, s)
			}
			return out, nil
		case string:
			// A single string is accepted as a one-element list.
			return []string{list}, nil
		}
		return nil, errs.NewValidationError(spec.Name, fmt.Sprintf("expected list of strings, got %T", v))
	}
	return nil, errs.NewValidationError(spec.Name, "unknown parameter type")
}

// Envelope parameters are accepted by every tool without appearing in
// its own spec list.
func isEnvelopeParam(name string) bool {
	switch name {
	case "verbosity", "max_tokens", "truncation", "max_answer_chars", "cursor":
		return true
	}
	return false
}
