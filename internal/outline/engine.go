// Package outline turns raw document text into an ordered,
// non-overlapping set of chunks. The primary strategy asks a model for
// an outline with line-number starts and slices deterministically; a
// regex heuristic serves as a pure fallback.
package outline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dhowlett/cardsmith/internal/extractor"
	"github.com/dhowlett/cardsmith/internal/ollama"
)

// OutlineUnit is a model-proposed section boundary, pre-validation.
type OutlineUnit struct {
	Path      []string `json:"path"`
	Title     string   `json:"title"`
	StartLine int      `json:"start_line"`
}

// Chunk is a validated slice of document text. Chunks of one document
// are contiguous and zero-indexed, and never cross a page marker.
type Chunk struct {
	Index int
	Path  []string
	Title string
	Text  string
}

// OutlineError means model output could not be validated into usable
// chunks. It is retried within the engine's attempt budget, then
// surfaced with response snippets for diagnosis.
type OutlineError struct {
	Message string
}

func (e *OutlineError) Error() string { return e.Message }

func outlineErrorf(format string, args ...any) error {
	return &OutlineError{Message: fmt.Sprintf(format, args...)}
}

// Partitioner splits a document into chunks. Implementations are
// interchangeable strategies; callers pick exactly one.
type Partitioner interface {
	Partition(ctx context.Context, text, model, userHint string) ([]Chunk, error)
}

// ChatClient is the model transport the engine needs.
type ChatClient interface {
	Chat(ctx context.Context, messages []ollama.Message, model string, temperature float64, format json.RawMessage) (string, error)
}

// Engine is the model-driven partitioner.
type Engine struct {
	client ChatClient

	// MaxUnits bounds the outline size. MaxLines bounds the numbered
	// rendering sent to the model. Attempts is the total try budget.
	MaxUnits int
	MaxLines int
	Attempts int
}

func NewEngine(client ChatClient) *Engine {
	return &Engine{
		client:   client,
		MaxUnits: 60,
		MaxLines: 3500,
		Attempts: 2,
	}
}

// Partition asks the model for an outline and slices the document along
// validated unit boundaries. Page markers are a hard upper bound on
// chunk extent; model boundaries are advisory within a page.
func (e *Engine) Partition(ctx context.Context, text, model, userHint string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, outlineErrorf("empty document text")
	}

	lines := normalizeLines(text)
	pageEnds := pageEndByLine(lines)
	numbered := numberedLines(lines, e.MaxLines)

	hint := userHint
	var lastErr error
	var lastRaw string
	haveRaw := false

	for attempt := 0; attempt < e.Attempts; attempt++ {
		prompt := outlinePrompt(numbered, hint, e.MaxUnits, len(lines))
		raw, err := e.client.Chat(ctx,
			[]ollama.Message{{Role: "user", Content: prompt}},
			model, 0, outlineSchema(len(lines)))
		if err != nil {
			var reqErr *ollama.RequestError
			if errors.As(err, &reqErr) {
				// Transport failures share the outline retry budget.
				lastErr = err
				continue
			}
			return nil, err
		}
		lastRaw, haveRaw = raw, true

		chunks, err := e.build(raw, lines, pageEnds)
		if err == nil {
			return chunks, nil
		}
		lastErr = err
		// The model broke the JSON contract; retry with a stronger
		// instruction folded into the hint.
		hint = amendHint(hint)
	}

	var reqErr *ollama.RequestError
	if errors.As(lastErr, &reqErr) {
		return nil, lastErr
	}

	message := "unknown outline error"
	if lastErr != nil {
		message = lastErr.Error()
	}
	if haveRaw {
		message = fmt.Sprintf("%s. Response head: %s. Response tail: %s",
			message, snippet(lastRaw, false), snippet(lastRaw, true))
	}
	return nil, &OutlineError{Message: message}
}

func (e *Engine) build(raw string, lines []string, pageEnds map[int]int) ([]Chunk, error) {
	units, err := parseUnits(raw)
	if err != nil {
		return nil, err
	}
	if len(units) > e.MaxUnits {
		units = units[:e.MaxUnits]
	}
	validated, err := validateAndSort(units, lines)
	if err != nil {
		return nil, err
	}
	return buildChunks(validated, lines, pageEnds)
}

// parseUnits extracts outline units from the raw model response,
// accepting either a {"units":[...]} object or a bare array.
func parseUnits(raw string) ([]OutlineUnit, error) {
	jsonText, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var units []OutlineUnit
	if strings.HasPrefix(jsonText, "[") {
		if err := json.Unmarshal([]byte(jsonText), &units); err != nil {
			return nil, outlineErrorf("unable to parse outline JSON: %s", err)
		}
	} else {
		var envelope struct {
			Units []OutlineUnit `json:"units"`
		}
		if err := json.Unmarshal([]byte(jsonText), &envelope); err != nil {
			return nil, outlineErrorf("unable to parse outline JSON: %s", err)
		}
		units = envelope.Units
	}

	if len(units) == 0 {
		return nil, outlineErrorf("model returned an empty outline")
	}
	return units, nil
}

var codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)```\\s*$")

// extractJSON strips a surrounding code fence and locates the outermost
// JSON object (preferred) or array span.
func extractJSON(raw string) (string, error) {
	stripped := strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(stripped); len(m) > 1 {
		stripped = strings.TrimSpace(m[1])
	}

	if start, end := strings.Index(stripped, "{"), strings.LastIndex(stripped, "}"); start >= 0 && end > start {
		return stripped[start : end+1], nil
	}
	if start, end := strings.Index(stripped, "["), strings.LastIndex(stripped, "]"); start >= 0 && end > start {
		return stripped[start : end+1], nil
	}
	return "", outlineErrorf("no JSON object found in outline response")
}

// validateAndSort drops out-of-range units, shifts starts that land on
// a page marker to the page's first content line, sorts by start line
// and dedupes (first occurrence wins).
func validateAndSort(units []OutlineUnit, lines []string) ([]OutlineUnit, error) {
	lineCount := len(lines)

	inRange := make([]OutlineUnit, 0, len(units))
	for _, u := range units {
		if u.StartLine >= 1 && u.StartLine <= lineCount {
			inRange = append(inRange, u)
		}
	}
	if len(inRange) == 0 {
		return nil, outlineErrorf("too few usable section starts found (0)")
	}

	normalized := make([]OutlineUnit, 0, len(inRange))
	for _, u := range inRange {
		u = shiftOffMarker(u, lines)
		if u.StartLine >= 1 && u.StartLine <= lineCount {
			normalized = append(normalized, u)
		}
	}
	if len(normalized) == 0 {
		return nil, outlineErrorf("too few usable section starts found after normalization (0)")
	}

	sorted := make([]OutlineUnit, len(normalized))
	copy(sorted, normalized)
	stableSortByStart(sorted)

	deduped := sorted[:0]
	seen := make(map[int]bool, len(sorted))
	for _, u := range sorted {
		if seen[u.StartLine] {
			continue
		}
		seen[u.StartLine] = true
		deduped = append(deduped, u)
	}
	return deduped, nil
}

// shiftOffMarker moves a unit that starts exactly on a page marker to
// the following line. A marker on the last line is left in place; the
// slicer will drop the resulting empty chunk.
func shiftOffMarker(u OutlineUnit, lines []string) OutlineUnit {
	idx := u.StartLine - 1
	if idx < 0 || idx >= len(lines) || !extractor.IsPageMarker(lines[idx]) {
		return u
	}
	if idx+1 >= len(lines) {
		return u
	}
	u.StartLine = idx + 2
	return u
}

func stableSortByStart(units []OutlineUnit) {
	// Insertion sort keeps equal starts in proposal order.
	for i := 1; i < len(units); i++ {
		for j := i; j > 0 && units[j].StartLine < units[j-1].StartLine; j-- {
			units[j], units[j-1] = units[j-1], units[j]
		}
	}
}

// buildChunks slices unit i from its start line to the smallest of the
// next unit's start, the end of its containing page, and the end of
// the document. Page marker lines are stripped from content and empty
// slices are skipped.
func buildChunks(units []OutlineUnit, lines []string, pageEnds map[int]int) ([]Chunk, error) {
	var chunks []Chunk
	for i, unit := range units {
		startIdx := unit.StartLine - 1
		endIdx := len(lines)
		if i+1 < len(units) {
			endIdx = units[i+1].StartLine - 1
		}

		pageEnd, ok := pageEnds[unit.StartLine]
		if !ok {
			pageEnd = len(lines)
		}
		if pageEnd < endIdx {
			endIdx = pageEnd
		}

		if endIdx <= startIdx {
			continue
		}

		var kept []string
		for _, line := range lines[startIdx:endIdx] {
			if extractor.IsPageMarker(line) {
				continue
			}
			kept = append(kept, line)
		}
		text := strings.TrimSpace(strings.Join(kept, "\n"))
		if text == "" {
			continue
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Path:  unit.Path,
			Title: unit.Title,
			Text:  text,
		})
	}

	if len(chunks) == 0 {
		return nil, outlineErrorf("no chunks could be constructed from outline")
	}
	return chunks, nil
}

// pageEndByLine maps each 1-based line number to the exclusive 1-based
// end line of the page containing it. Empty when the document has no
// page markers; callers then use end-of-document.
func pageEndByLine(lines []string) map[int]int {
	var markerIdx []int
	for idx, line := range lines {
		if extractor.IsPageMarker(line) {
			markerIdx = append(markerIdx, idx)
		}
	}
	if len(markerIdx) == 0 {
		return map[int]int{}
	}

	ends := make(map[int]int)
	for i, start := range markerIdx {
		endExclusive := len(lines)
		if i+1 < len(markerIdx) {
			endExclusive = markerIdx[i+1]
		}
		for idx := start; idx < endExclusive; idx++ {
			ends[idx+1] = endExclusive
		}
	}
	return ends
}

// normalizeLines splits text into right-trimmed lines with NUL bytes
// removed. Line numbers are 1-based everywhere downstream.
func normalizeLines(text string) []string {
	text = strings.ReplaceAll(text, "\x00", "")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return lines
}

// numberedLines renders at most maxLines lines with "L%05d: " prefixes
// to keep the prompt within typical local-model context.
func numberedLines(lines []string, maxLines int) string {
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "L%05d: %s", i+1, line)
	}
	return sb.String()
}

func amendHint(hint string) string {
	trimmed := strings.TrimSpace(hint)
	if trimmed == "" {
		trimmed = "None."
	}
	return trimmed + "\n\n" +
		"IMPORTANT: Your previous response could not be parsed as JSON. Return ONLY valid JSON matching the required shape.\n" +
		"Do not include any other text."
}

var whitespaceRe = regexp.MustCompile(`\s+`)

const snippetLen = 420

// snippet returns the head or tail of a response with whitespace
// collapsed, for error diagnostics.
func snippet(text string, fromEnd bool) string {
	clean := strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	runes := []rune(clean)
	if len(runes) <= snippetLen {
		return clean
	}
	if fromEnd {
		return string(runes[len(runes)-snippetLen:])
	}
	return string(runes[:snippetLen])
}
