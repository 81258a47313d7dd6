package tools

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ternarybob/serena/internal/errs"
)

// SchemaVersion tags every response envelope.
const SchemaVersion = "serena/1"

// charsPerToken is the char-based token approximation used in place
// of a real tokenizer.
const charsPerToken = 4

// TruncationMode governs behavior when a result exceeds max_tokens.
type TruncationMode string

const (
	TruncateError    TruncationMode = "error"
	TruncateSummary  TruncationMode = "summary"
	TruncatePaginate TruncationMode = "paginate"
)

// TokenMeta reports estimated token accounting for a response.
type TokenMeta struct {
	Estimated int `json:"estimated"`
	Budget    int `json:"budget,omitempty"`
}

// TruncationMeta describes an applied truncation.
type TruncationMeta struct {
	Mode          TruncationMode `json:"mode"`
	Kept          int            `json:"kept,omitempty"`
	Total         int            `json:"total,omitempty"`
	ExpansionHint string         `json:"expansion_hint,omitempty"`
	Cursor        string         `json:"cursor,omitempty"`
}

// CacheMeta reports symbol-cache observations for a call.
type CacheMeta struct {
	Hit         bool `json:"hit"`
	Invalidated int  `json:"invalidated,omitempty"`
}

// VerbosityMeta echoes the resolved verbosity and the rule behind it.
type VerbosityMeta struct {
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

// Envelope is the uniform response wrapper. Reserved metadata lives
// under leading-underscore keys; callers may ignore all of it.
type Envelope struct {
	Result     any             `json:"result"`
	Warnings   []string        `json:"warnings,omitempty"`
	Schema     string          `json:"_schema"`
	Cache      *CacheMeta      `json:"_cache,omitempty"`
	Tokens     *TokenMeta      `json:"_tokens"`
	Truncation *TruncationMeta `json:"_truncation,omitempty"`
	Deprecated []string        `json:"_deprecated,omitempty"`
	Verbosity  *VerbosityMeta  `json:"_verbosity"`
}

// EstimateTokens applies the char-based approximation standing in for
// a real tokenizer: roughly four characters per token.
func EstimateTokens(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return (len(data) + charsPerToken - 1) / charsPerToken
}

// budgetOptions is the parsed envelope-parameter set for one call.
type budgetOptions struct {
	maxTokens  int // 0 = unlimited
	mode       TruncationMode
	cursor     string
	deprecated []string
}

// parseBudget extracts max_tokens/truncation/cursor, mapping the
// legacy max_answer_chars with a one-shot deprecation note.
func parseBudget(raw map[string]any) (*budgetOptions, error) {
	opts := &budgetOptions{mode: TruncateError}

	if v, ok := raw["max_tokens"]; ok && v != nil {
		n, err := toInt(v)
		if err != nil || n < 0 {
			return nil, errs.NewValidationError("max_tokens", "must be a non-negative integer")
		}
		opts.maxTokens = n
	} else if v, ok := raw["max_answer_chars"]; ok && v != nil {
		n, err := toInt(v)
		if err != nil || n < 0 {
			return nil, errs.NewValidationError("max_answer_chars", "must be a non-negative integer")
		}
		opts.maxTokens = n / charsPerToken
		opts.deprecated = append(opts.deprecated,
			"max_answer_chars is deprecated; use max_tokens (chars are approximated as tokens*4)")
	}

	if v, ok := raw["truncation"]; ok && v != nil {
		s, _ := v.(string)
		switch TruncationMode(s) {
		case TruncateError, TruncateSummary, TruncatePaginate:
			opts.mode = TruncationMode(s)
		default:
			return nil, errs.NewValidationError("truncation", fmt.Sprintf("%q is not one of [error summary paginate]", s))
		}
	}
	if v, ok := raw["cursor"]; ok && v != nil {
		opts.cursor, _ = v.(string)
	}
	return opts, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}

// applyBudget enforces the truncation contract on a result. It
// returns the (possibly reduced) result and truncation metadata, or a
// TruncationError in error mode.
func applyBudget(result any, opts *budgetOptions, suggestions []string) (any, *TruncationMeta, error) {
	if opts.maxTokens <= 0 {
		if opts.cursor != "" {
			// A cursor without a budget just resumes from the offset.
			reduced, meta := paginate(result, opts.cursor, 0)
			return reduced, meta, nil
		}
		return result, nil, nil
	}

	estimated := EstimateTokens(result)
	if estimated <= opts.maxTokens && opts.cursor == "" {
		return result, nil, nil
	}

	switch opts.mode {
	case TruncateSummary:
		reduced, meta := summarize(result, opts.maxTokens)
		return reduced, meta, nil
	case TruncatePaginate:
		reduced, meta := paginate(result, opts.cursor, opts.maxTokens)
		return reduced, meta, nil
	default:
		if len(suggestions) == 0 {
			suggestions = []string{
				"raise max_tokens",
				"switch truncation to \"summary\" or \"paginate\"",
			}
		}
		return nil, nil, &errs.TruncationError{
			Tokens:    estimated,
			MaxTokens: opts.maxTokens,
			Suggest:   strings.Join(suggestions, "; "),
		}
	}
}

// Decomposable lets a structured result opt into unit-boundary
// truncation: Units exposes its addressable pieces (symbols, matches)
// and Rebuild reassembles a reduced copy around a kept subset.
type Decomposable interface {
	Units() []any
	Rebuild(units []any) any
}

// items decomposes a result into addressable units: declared units,
// slice elements, or lines for a plain string. Non-decomposable
// values round-trip as a single unit.
func items(result any) ([]any, bool) {
	if d, ok := result.(Decomposable); ok {
		return d.Units(), true
	}
	if s, ok := result.(string); ok {
		lines := strings.SplitAfter(s, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		units := make([]any, len(lines))
		for i, l := range lines {
			units[i] = l
		}
		return units, true
	}

	v := reflect.ValueOf(result)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		return []any{result}, false
	}
	units := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		units[i] = v.Index(i).Interface()
	}
	return units, true
}

// rejoin reassembles units the way items() produced them.
func rejoin(original any, units []any) any {
	if d, ok := original.(Decomposable); ok {
		return d.Rebuild(units)
	}
	if _, ok := original.(string); ok {
		var sb strings.Builder
		for _, u := range units {
			sb.WriteString(u.(string))
		}
		return sb.String()
	}
	return units
}

// fitUnits returns how many leading units fit the token budget.
func fitUnits(units []any, maxTokens int) int {
	if maxTokens <= 0 {
		return len(units)
	}
	kept := 0
	used := 0
	for _, u := range units {
		t := EstimateTokens(u)
		if used+t > maxTokens {
			break
		}
		used += t
		kept++
	}
	return kept
}

// summarize keeps the leading units that fit the budget and attaches
// an expansion hint for the rest.
func summarize(result any, maxTokens int) (any, *TruncationMeta) {
	units, decomposable := items(result)
	if !decomposable {
		return result, &TruncationMeta{
			Mode:          TruncateSummary,
			ExpansionHint: "result is a single unit; raise max_tokens to see it in full",
		}
	}

	kept := fitUnits(units, maxTokens)
	meta := &TruncationMeta{
		Mode:  TruncateSummary,
		Kept:  kept,
		Total: len(units),
		ExpansionHint: fmt.Sprintf(
			"showing %d of %d units; re-run with a larger max_tokens or truncation=\"paginate\" for the rest",
			kept, len(units)),
	}
	return rejoin(result, units[:kept]), meta
}

// paginate returns the page starting at the cursor offset that fits
// the budget, plus an opaque cursor for the next page. Concatenating
// all pages reproduces the untruncated result.
func paginate(result any, cursor string, maxTokens int) (any, *TruncationMeta) {
	units, decomposable := items(result)
	offset := decodeCursor(cursor)
	if offset > len(units) {
		offset = len(units)
	}
	if !decomposable && offset == 0 {
		return result, &TruncationMeta{Mode: TruncatePaginate, Kept: 1, Total: 1}
	}

	remaining := units[offset:]
	kept := fitUnits(remaining, maxTokens)
	// A page always advances: an oversized single unit still ships,
	// otherwise concatenating pages could never cover the result.
	if kept == 0 && len(remaining) > 0 {
		kept = 1
	}
	meta := &TruncationMeta{
		Mode:  TruncatePaginate,
		Kept:  kept,
		Total: len(units),
	}
	if offset+kept < len(units) {
		meta.Cursor = encodeCursor(offset + kept)
	}
	return rejoin(result, remaining[:kept]), meta
}

func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(data))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
