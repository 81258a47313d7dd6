package symbol

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/ternarybob/serena/internal/errs"
)

// MatchMode selects how a name-path query's final segment is compared
// against a symbol name.
type MatchMode string

const (
	MatchExact     MatchMode = "exact"
	MatchSubstring MatchMode = "substring"
	MatchGlob      MatchMode = "glob"
	MatchRegex     MatchMode = "regex"
)

// Matcher is a compiled name-path query. Parent segments are always
// compared exactly; only the final segment honors the match mode.
type Matcher struct {
	parents []string
	final   string
	mode    MatchMode
	re      *regexp.Regexp
}

// NewMatcher compiles a name-path query like "Outer/Inner/method".
// An invalid regex or glob pattern fails with a ValidationError.
func NewMatcher(namePath string, mode MatchMode) (*Matcher, error) {
	if namePath == "" {
		return nil, errs.NewValidationError("name_path", "must not be empty")
	}
	if mode == "" {
		mode = MatchExact
	}
	switch mode {
	case MatchExact, MatchSubstring, MatchGlob, MatchRegex:
	default:
		return nil, errs.NewValidationError("match_mode", fmt.Sprintf("unknown mode %q", mode))
	}

	segments := strings.Split(strings.Trim(namePath, "/"), "/")
	m := &Matcher{
		parents: segments[:len(segments)-1],
		final:   segments[len(segments)-1],
		mode:    mode,
	}

	switch mode {
	case MatchRegex:
		re, err := regexp.Compile("^(?:" + m.final + ")$")
		if err != nil {
			return nil, errs.NewValidationError("name_path", fmt.Sprintf("invalid regex %q: %v", m.final, err))
		}
		m.re = re
	case MatchGlob:
		if _, err := path.Match(m.final, ""); err != nil {
			return nil, errs.NewValidationError("name_path", fmt.Sprintf("invalid glob %q: %v", m.final, err))
		}
	}
	return m, nil
}

// Matches reports whether a symbol's naming chain satisfies the
// query: the final segment per the mode, and any parent segments as
// an exact suffix of the symbol's enclosing chain.
func (m *Matcher) Matches(s *Symbol) bool {
	if !m.matchesFinal(s.Name) {
		return false
	}
	if len(m.parents) == 0 {
		return true
	}

	chain := strings.Split(s.NamePath, "/")
	chain = chain[:len(chain)-1] // drop the symbol's own name
	if len(chain) < len(m.parents) {
		return false
	}
	tail := chain[len(chain)-len(m.parents):]
	for i, parent := range m.parents {
		if tail[i] != parent {
			return false
		}
	}
	return true
}

func (m *Matcher) matchesFinal(name string) bool {
	switch m.mode {
	case MatchSubstring:
		return strings.Contains(name, m.final)
	case MatchGlob:
		ok, _ := path.Match(m.final, name)
		return ok
	case MatchRegex:
		return m.re.MatchString(name)
	default:
		return name == m.final
	}
}

// FilterTree walks the symbol trees and returns every symbol the
// matcher accepts, optionally restricted to a set of kinds.
func FilterTree(roots []*Symbol, m *Matcher, kinds []protocol.SymbolKind) []*Symbol {
	kindSet := make(map[protocol.SymbolKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	var out []*Symbol
	Walk(roots, func(s *Symbol) {
		if len(kindSet) > 0 && !kindSet[s.Kind] {
			return
		}
		if m.Matches(s) {
			out = append(out, s)
		}
	})
	return out
}

// FindByNamePath returns the first symbol in the trees whose naming
// chain exactly matches the query, or a NotFoundError.
func FindByNamePath(roots []*Symbol, namePath string) (*Symbol, error) {
	m, err := NewMatcher(namePath, MatchExact)
	if err != nil {
		return nil, err
	}
	matches := FilterTree(roots, m, nil)
	if len(matches) == 0 {
		return nil, errs.NewNotFoundError("symbol", namePath)
	}
	return matches[0], nil
}
