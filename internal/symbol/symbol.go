// Package symbol defines the typed symbol record layered on top of
// raw LSP results: name paths, symbol ids, body extraction from file
// content, and the matching modes used by find_symbol.
package symbol

import (
	"fmt"
	"strconv"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/ternarybob/serena/internal/errs"
)

// MaxDepth caps recursive child expansion in retrieval requests.
const MaxDepth = 5

// Position is a zero-based line/character pair in LSP character
// units. Conversion to byte offsets happens at the filesystem
// boundary, not here.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [Start, End) span, LSP convention.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// FromProtocolRange converts an LSP range into the local record type.
func FromProtocolRange(r protocol.Range) Range {
	return Range{
		Start: Position{Line: int(r.Start.Line), Character: int(r.Start.Character)},
		End:   Position{Line: int(r.End.Line), Character: int(r.End.Character)},
	}
}

// Symbol is the stable record type every semantic read returns.
type Symbol struct {
	Name         string              `json:"name"`
	Kind         protocol.SymbolKind `json:"kind"`
	KindName     string              `json:"kind_name"`
	NamePath     string              `json:"name_path"`
	RelativePath string              `json:"relative_path"`
	Range        Range               `json:"range"`
	Selection    Range               `json:"selection_range"`
	Children     []*Symbol           `json:"children,omitempty"`

	// Populated according to the requested output format; empty in
	// metadata-only responses.
	Body            string `json:"body,omitempty"`
	Signature       string `json:"signature,omitempty"`
	Docstring       string `json:"docstring,omitempty"`
	ComplexityScore int    `json:"complexity_score,omitempty"`
}

// ID returns the stable symbol identifier
// "{name_path}:{relative_path}:{start_line}", with a one-based start
// line. It is stable across pure reads and invalidated by any edit
// touching RelativePath.
func (s *Symbol) ID() string {
	return fmt.Sprintf("%s:%s:%d", s.NamePath, s.RelativePath, s.Range.Start.Line+1)
}

// ParsedID is a symbol identifier split back into its parts.
type ParsedID struct {
	NamePath     string
	RelativePath string
	StartLine    int // one-based
}

// ParseID splits a symbol id produced by Symbol.ID. The last two
// colon-separated fields are taken as the path and line, so the
// relative path may contain no colons; the name path is everything
// before them.
func ParseID(id string) (ParsedID, error) {
	lastColon := strings.LastIndex(id, ":")
	if lastColon < 0 {
		return ParsedID{}, errs.NewValidationError("symbol_id", fmt.Sprintf("malformed id %q", id))
	}
	line, err := strconv.Atoi(id[lastColon+1:])
	if err != nil || line < 1 {
		return ParsedID{}, errs.NewValidationError("symbol_id", fmt.Sprintf("malformed start line in %q", id))
	}
	rest := id[:lastColon]
	pathColon := strings.LastIndex(rest, ":")
	if pathColon < 0 {
		return ParsedID{}, errs.NewValidationError("symbol_id", fmt.Sprintf("missing relative path in %q", id))
	}
	return ParsedID{
		NamePath:     rest[:pathColon],
		RelativePath: rest[pathColon+1:],
		StartLine:    line,
	}, nil
}

var kindNames = map[protocol.SymbolKind]string{
	protocol.SymbolKindFile:          "file",
	protocol.SymbolKindModule:        "module",
	protocol.SymbolKindNamespace:     "namespace",
	protocol.SymbolKindPackage:       "package",
	protocol.SymbolKindClass:         "class",
	protocol.SymbolKindMethod:        "method",
	protocol.SymbolKindProperty:      "property",
	protocol.SymbolKindField:         "field",
	protocol.SymbolKindConstructor:   "constructor",
	protocol.SymbolKindEnum:          "enum",
	protocol.SymbolKindInterface:     "interface",
	protocol.SymbolKindFunction:      "function",
	protocol.SymbolKindVariable:      "variable",
	protocol.SymbolKindConstant:      "constant",
	protocol.SymbolKindString:        "string",
	protocol.SymbolKindNumber:        "number",
	protocol.SymbolKindBoolean:       "boolean",
	protocol.SymbolKindArray:         "array",
	protocol.SymbolKindObject:        "object",
	protocol.SymbolKindKey:           "key",
	protocol.SymbolKindNull:          "null",
	protocol.SymbolKindEnumMember:    "enum_member",
	protocol.SymbolKindStruct:        "struct",
	protocol.SymbolKindEvent:         "event",
	protocol.SymbolKindOperator:      "operator",
	protocol.SymbolKindTypeParameter: "type_parameter",
}

// KindNameOf returns the lowercase LSP kind name for a SymbolKind.
func KindNameOf(kind protocol.SymbolKind) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return "unknown"
}

// KindFromName maps a lowercase kind name back to its SymbolKind,
// used to validate include_kinds filters.
func KindFromName(name string) (protocol.SymbolKind, bool) {
	for kind, kn := range kindNames {
		if kn == strings.ToLower(name) {
			return kind, true
		}
	}
	return 0, false
}

// FromDocumentSymbol converts one LSP DocumentSymbol subtree into the
// local record type, assigning name paths relative to parentPath.
func FromDocumentSymbol(ds protocol.DocumentSymbol, parentPath, relativePath string) *Symbol {
	namePath := ds.Name
	if parentPath != "" {
		namePath = parentPath + "/" + ds.Name
	}
	s := &Symbol{
		Name:         ds.Name,
		Kind:         ds.Kind,
		KindName:     KindNameOf(ds.Kind),
		NamePath:     namePath,
		RelativePath: relativePath,
		Range:        FromProtocolRange(ds.Range),
		Selection:    FromProtocolRange(ds.SelectionRange),
	}
	for _, child := range ds.Children {
		s.Children = append(s.Children, FromDocumentSymbol(child, namePath, relativePath))
	}
	return s
}

// Walk visits every symbol in the trees depth-first, parents before
// children.
func Walk(roots []*Symbol, visit func(*Symbol)) {
	for _, s := range roots {
		visit(s)
		Walk(s.Children, visit)
	}
}

// Flatten returns every symbol in the trees in walk order.
func Flatten(roots []*Symbol) []*Symbol {
	var out []*Symbol
	Walk(roots, func(s *Symbol) { out = append(out, s) })
	return out
}

// Prune returns a copy of s with children expanded only to the given
// depth: 0 keeps the symbol only, 1 includes direct children, and so
// on. Depth validation (the MaxDepth cap) happens at the tool
// boundary, not here.
func (s *Symbol) Prune(depth int) *Symbol {
	clone := *s
	if depth <= 0 {
		clone.Children = nil
		return &clone
	}
	clone.Children = make([]*Symbol, 0, len(s.Children))
	for _, child := range s.Children {
		clone.Children = append(clone.Children, child.Prune(depth-1))
	}
	return &clone
}

// ValidateDepth rejects depth values outside [0, MaxDepth].
func ValidateDepth(depth int) error {
	if depth < 0 {
		return errs.NewValidationError("depth", "must not be negative")
	}
	if depth > MaxDepth {
		return errs.NewValidationError("depth", fmt.Sprintf("%d exceeds the recursive cap of %d; narrow the request instead", depth, MaxDepth))
	}
	return nil
}

// Reference is one referencing location of a target symbol. Cross-file
// linkage carries only symbol id strings, never object references.
type Reference struct {
	SourceSymbolID string   `json:"source_symbol_id,omitempty"`
	TargetSymbolID string   `json:"target_symbol_id"`
	RelativePath   string   `json:"relative_path"`
	Line           int      `json:"line"` // one-based
	UsagePattern   string   `json:"usage_pattern"`
	Context        []string `json:"context,omitempty"`
}
