package editor

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContextLines = 3

// lineOp is one line of a computed diff: ' ' context, '-' removed,
// '+' added.
type lineOp struct {
	kind byte
	text string
}

// Unified renders a conventional unified diff between two versions of
// a file. Line-level reduction avoids newline boundary artifacts when
// converting character diffs to line ops.
func Unified(path, oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	ops := toLineOps(diffs)
	hunks := groupHunks(ops, diffContextLines)
	if len(hunks) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n", path)
	fmt.Fprintf(&sb, "+++ b/%s\n", path)
	for _, h := range hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.oldStart, h.oldCount, h.newStart, h.newCount)
		for _, op := range h.lines {
			sb.WriteByte(op.kind)
			sb.WriteString(op.text)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func toLineOps(diffs []diffmatchpatch.Diff) []lineOp {
	var ops []lineOp
	for _, d := range diffs {
		var kind byte
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		default:
			kind = ' '
		}
		lines := strings.Split(d.Text, "\n")
		// A trailing newline produces one empty trailing element that
		// is not a line of its own.
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	lines              []lineOp
}

// groupHunks collapses runs of unchanged lines longer than 2*context
// into hunk boundaries, numbering lines 1-based as diff consumers
// expect.
func groupHunks(ops []lineOp, context int) []hunk {
	var hunks []hunk
	oldLine, newLine := 1, 1

	i := 0
	for i < len(ops) {
		// Skip to the next change.
		if ops[i].kind == ' ' {
			oldLine++
			newLine++
			i++
			continue
		}

		// Back up to include leading context.
		start := i
		leading := 0
		for start > 0 && leading < context && ops[start-1].kind == ' ' {
			start--
			leading++
		}

		h := hunk{
			oldStart: oldLine - leading,
			newStart: newLine - leading,
		}

		// Consume until 2*context unchanged lines (or EOF) follow the
		// last change.
		j := start
		unchanged := 0
		lastChange := i
		for j < len(ops) {
			if ops[j].kind == ' ' {
				unchanged++
				if unchanged > 2*context {
					break
				}
			} else {
				unchanged = 0
				lastChange = j
			}
			j++
		}
		end := lastChange + 1
		trailing := 0
		for end < len(ops) && trailing < context && ops[end].kind == ' ' {
			end++
			trailing++
		}

		for k := start; k < end; k++ {
			h.lines = append(h.lines, ops[k])
			switch ops[k].kind {
			case '-':
				h.oldCount++
			case '+':
				h.newCount++
			default:
				h.oldCount++
				h.newCount++
			}
			if k >= i {
				switch ops[k].kind {
				case '-':
					oldLine++
				case '+':
					newLine++
				default:
					oldLine++
					newLine++
				}
			}
		}
		hunks = append(hunks, h)
		i = end
	}
	return hunks
}
