package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/serena/internal/errs"
)

func TestParseBudget_Defaults(t *testing.T) {
	opts, err := parseBudget(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, opts.maxTokens)
	assert.Equal(t, TruncateError, opts.mode)
	assert.Empty(t, opts.deprecated)
}

func TestParseBudget_LegacyMaxAnswerChars(t *testing.T) {
	opts, err := parseBudget(map[string]any{"max_answer_chars": float64(400)})
	require.NoError(t, err)
	assert.Equal(t, 100, opts.maxTokens)
	require.Len(t, opts.deprecated, 1)
	assert.Contains(t, opts.deprecated[0], "max_answer_chars is deprecated")
}

func TestParseBudget_InvalidMode(t *testing.T) {
	_, err := parseBudget(map[string]any{"truncation": "chop"})
	assert.True(t, errs.IsValidation(err))
}

func TestApplyBudget_UnderBudgetPassesThrough(t *testing.T) {
	result, meta, err := applyBudget("short", &budgetOptions{maxTokens: 1000, mode: TruncateError}, nil)
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Equal(t, "short", result)
}

func TestApplyBudget_ErrorModeRaisesWithSuggestions(t *testing.T) {
	big := strings.Repeat("0123456789abcdef\n", 100)

	_, _, err := applyBudget(big, &budgetOptions{maxTokens: 10, mode: TruncateError}, []string{"narrow by relative_path"})
	require.Error(t, err)

	var te *errs.TruncationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 10, te.MaxTokens)
	assert.Greater(t, te.Tokens, 10)
	assert.Contains(t, te.Suggest, "narrow by relative_path")
}

func TestApplyBudget_SummaryRespectsBudgetAndHints(t *testing.T) {
	big := strings.Repeat("aaaa\n", 200) // ~2 tokens per line

	result, meta, err := applyBudget(big, &budgetOptions{maxTokens: 20, mode: TruncateSummary}, nil)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, TruncateSummary, meta.Mode)
	assert.NotEmpty(t, meta.ExpansionHint)
	assert.LessOrEqual(t, EstimateTokens(result), 20)
	assert.Less(t, meta.Kept, meta.Total)
}

func TestApplyBudget_PaginateConcatenationIsComplete(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "line-content\n")
	}
	full := strings.Join(lines, "")

	var rebuilt strings.Builder
	cursor := ""
	pages := 0
	for {
		result, meta, err := applyBudget(full, &budgetOptions{maxTokens: 30, mode: TruncatePaginate, cursor: cursor}, nil)
		require.NoError(t, err)
		require.NotNil(t, meta)
		rebuilt.WriteString(result.(string))
		pages++
		require.Less(t, pages, 100, "pagination must terminate")
		if meta.Cursor == "" {
			break
		}
		cursor = meta.Cursor
	}

	assert.Greater(t, pages, 1)
	assert.Equal(t, full, rebuilt.String())
}

func TestApplyBudget_PaginateAdvancesOnOversizedUnit(t *testing.T) {
	units := []string{strings.Repeat("x", 4000), "tail"}

	result, meta, err := applyBudget(units, &budgetOptions{maxTokens: 10, mode: TruncatePaginate}, nil)
	require.NoError(t, err)
	page := result.([]any)
	require.Len(t, page, 1)
	assert.Len(t, page[0].(string), 4000)
	assert.NotEmpty(t, meta.Cursor)
}

func TestEstimateTokens_CharApproximation(t *testing.T) {
	// JSON-encoding a 38-char string adds 2 quote chars: 40/4 = 10.
	assert.Equal(t, 10, EstimateTokens(strings.Repeat("a", 38)))
}

func TestCursorRoundTrip(t *testing.T) {
	assert.Equal(t, 17, decodeCursor(encodeCursor(17)))
	assert.Equal(t, 0, decodeCursor(""))
	assert.Equal(t, 0, decodeCursor("not-base64!"))
}
