package symbol

import (
	"strings"
)

// OutputFormat selects which derived fields a retrieval populates.
type OutputFormat string

const (
	FormatMetadata  OutputFormat = "metadata"
	FormatSignature OutputFormat = "signature"
	FormatBody      OutputFormat = "body"
)

// branchTokens feed the complexity score: a count of branching
// constructs in the body, language-agnostic on purpose.
var branchTokens = []string{
	"if ", "if(", "for ", "for(", "while ", "while(", "case ",
	"elif ", "else:", "else ", "catch ", "catch(", "except ",
	"&&", "||", "?",
}

// BodyFromContent slices a symbol's source text out of the file
// content using its LSP-reported range. This is the filesystem fast
// path: bodies are never requested from the language server.
func BodyFromContent(content string, r Range) string {
	lines := splitLines(content)
	if r.Start.Line >= len(lines) {
		return ""
	}

	endLine := r.End.Line
	// An end position at character 0 excludes that line entirely.
	if r.End.Character == 0 && endLine > r.Start.Line {
		endLine--
	}
	if endLine >= len(lines) {
		endLine = len(lines) - 1
	}
	return strings.Join(lines[r.Start.Line:endLine+1], "\n")
}

// Populate fills the format-dependent fields of a symbol (and its
// children, recursively) from the file content.
func (s *Symbol) Populate(content string, format OutputFormat) {
	switch format {
	case FormatBody:
		s.Body = BodyFromContent(content, s.Range)
		s.Signature = signatureOf(s.Body)
		s.Docstring = docstringOf(content, s.Range)
		s.ComplexityScore = complexityOf(s.Body)
	case FormatSignature:
		body := BodyFromContent(content, s.Range)
		s.Signature = signatureOf(body)
		s.Docstring = docstringOf(content, s.Range)
		s.ComplexityScore = complexityOf(body)
	}
	for _, child := range s.Children {
		child.Populate(content, format)
	}
}

// signatureOf returns the first non-empty line of a body, trimmed.
func signatureOf(body string) string {
	for _, line := range splitLines(body) {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// docstringOf collects the contiguous comment lines directly above
// the symbol's range, plus a leading string literal directly inside
// it (the Python docstring convention).
func docstringOf(content string, r Range) string {
	lines := splitLines(content)

	var above []string
	for i := r.Start.Line - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*") {
			above = append([]string{trimmed}, above...)
			continue
		}
		break
	}
	if len(above) > 0 {
		return strings.Join(above, "\n")
	}

	// Look just inside the body for a triple-quoted literal.
	for i := r.Start.Line + 1; i <= r.Start.Line+2 && i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, `"""`) || strings.HasPrefix(trimmed, "'''") {
			return trimmed
		}
	}
	return ""
}

// complexityOf is a cheap branch-token count: 1 plus one per
// branching construct found in the body.
func complexityOf(body string) int {
	if body == "" {
		return 0
	}
	score := 1
	for _, tok := range branchTokens {
		score += strings.Count(body, tok)
	}
	return score
}

func splitLines(content string) []string {
	return strings.Split(content, "\n")
}
