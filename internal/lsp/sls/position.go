package sls

import (
	"strings"
	"unicode/utf16"

	"github.com/ternarybob/serena/internal/symbol"
)

// lineIndex converts LSP UTF-16 positions into byte offsets for one
// version of a file's content. It is built once per open document
// version and reused for every range conversion instead of rescanning
// the content per call.
type lineIndex struct {
	content string
	// starts[i] is the byte offset of the first character of line i.
	starts []int
}

func newLineIndex(content string) *lineIndex {
	idx := &lineIndex{content: content, starts: []int{0}}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			idx.starts = append(idx.starts, i+1)
		}
	}
	return idx
}

// lineCount returns the number of lines, counting a trailing newline
// as starting one more (possibly empty) line.
func (idx *lineIndex) lineCount() int { return len(idx.starts) }

// lineContent returns line i without its trailing newline.
func (idx *lineIndex) lineContent(i int) string {
	if i < 0 || i >= len(idx.starts) {
		return ""
	}
	end := len(idx.content)
	if i+1 < len(idx.starts) {
		end = idx.starts[i+1] - 1 // drop the newline
	}
	return idx.content[idx.starts[i]:end]
}

// byteOffset converts an LSP position (zero-based line, UTF-16
// character unit) into a byte offset into the content. Positions past
// the end of a line clamp to the line end; lines past the end clamp
// to the content end.
func (idx *lineIndex) byteOffset(pos symbol.Position) int {
	if pos.Line >= len(idx.starts) {
		return len(idx.content)
	}
	line := idx.lineContent(pos.Line)
	offset := idx.starts[pos.Line]

	units := 0
	for _, r := range line {
		if units >= pos.Character {
			break
		}
		units += len(utf16.Encode([]rune{r}))
		offset += len(string(r))
	}
	return offset
}

// spliceRange replaces the byte span covered by an LSP range with
// newText and returns the resulting content.
func (idx *lineIndex) spliceRange(r symbol.Range, newText string) string {
	start := idx.byteOffset(r.Start)
	end := idx.byteOffset(r.End)
	if end < start {
		end = start
	}
	var b strings.Builder
	b.Grow(len(idx.content) - (end - start) + len(newText))
	b.WriteString(idx.content[:start])
	b.WriteString(newText)
	b.WriteString(idx.content[end:])
	return b.String()
}
