package sls

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/serena/internal/symbol"
)

func TestLineIndex_ByteOffsetASCII(t *testing.T) {
	idx := newLineIndex("abc\ndef\n")

	assert.Equal(t, 0, idx.byteOffset(symbol.Position{Line: 0, Character: 0}))
	assert.Equal(t, 2, idx.byteOffset(symbol.Position{Line: 0, Character: 2}))
	assert.Equal(t, 4, idx.byteOffset(symbol.Position{Line: 1, Character: 0}))
	assert.Equal(t, 6, idx.byteOffset(symbol.Position{Line: 1, Character: 2}))
}

func TestLineIndex_ByteOffsetUTF16(t *testing.T) {
	// "é" is 2 bytes but 1 UTF-16 unit; "𝄞" is 4 bytes and 2 units.
	idx := newLineIndex("é𝄞x\n")

	assert.Equal(t, 0, idx.byteOffset(symbol.Position{Line: 0, Character: 0}))
	assert.Equal(t, 2, idx.byteOffset(symbol.Position{Line: 0, Character: 1}))
	// After the surrogate pair: 2 (é) + 4 (𝄞) bytes.
	assert.Equal(t, 6, idx.byteOffset(symbol.Position{Line: 0, Character: 3}))
}

func TestLineIndex_ClampsPastEnd(t *testing.T) {
	idx := newLineIndex("ab\n")

	assert.Equal(t, 2, idx.byteOffset(symbol.Position{Line: 0, Character: 99}))
	assert.Equal(t, 3, idx.byteOffset(symbol.Position{Line: 99, Character: 0}))
}

func TestLineIndex_SpliceRange(t *testing.T) {
	idx := newLineIndex("aaa\nbbb\nccc\n")

	out := idx.spliceRange(symbol.Range{
		Start: symbol.Position{Line: 1, Character: 0},
		End:   symbol.Position{Line: 2, Character: 0},
	}, "XXX\n")
	assert.Equal(t, "aaa\nXXX\nccc\n", out)
}

func TestLineIndex_LineContent(t *testing.T) {
	idx := newLineIndex("aaa\nbbb")

	assert.Equal(t, 2, idx.lineCount())
	assert.Equal(t, "aaa", idx.lineContent(0))
	assert.Equal(t, "bbb", idx.lineContent(1))
	assert.Equal(t, "", idx.lineContent(5))
}
