// Package cards turns raw model output into study cards and refinement
// decisions. Parsing is a cascade of pure strategies tried in priority
// order; the first one yielding a non-empty result wins.
package cards

import (
	"encoding/csv"
	"encoding/json"
	"regexp"
	"strings"
)

// Pair is one (front, back) card candidate.
type Pair struct {
	Front string
	Back  string
}

// ParseError means model output was unparsable by every strategy.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// cardStrategies are tried in order on the fence-stripped text.
var cardStrategies = []func(string) []Pair{
	fromJSON,
	fromBracketSpan,
	fromQALines,
	fromTSV,
	fromCSV,
}

// ParseCards extracts an ordered, non-empty list of card pairs from a
// raw model response.
func ParseCards(raw string) ([]Pair, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return nil, &ParseError{Message: "empty model response"}
	}
	for _, strategy := range cardStrategies {
		if pairs := strategy(text); len(pairs) > 0 {
			return pairs, nil
		}
	}
	return nil, &ParseError{Message: "unable to parse model response into cards"}
}

var codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)```\\s*$")

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// trimPair validates a candidate; a side empty after trimming drops
// the pair.
func trimPair(front, back string) (Pair, bool) {
	front = strings.TrimSpace(front)
	back = strings.TrimSpace(back)
	if front == "" || back == "" {
		return Pair{}, false
	}
	return Pair{Front: front, Back: back}, true
}

type jsonCard struct {
	Front *string `json:"front"`
	Back  *string `json:"back"`
}

func collectJSONCards(items []jsonCard) []Pair {
	var pairs []Pair
	for _, item := range items {
		if item.Front == nil || item.Back == nil {
			continue
		}
		if p, ok := trimPair(*item.Front, *item.Back); ok {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// fromJSON accepts a top-level array of {front, back} objects or an
// object carrying a "cards" array of the same shape.
func fromJSON(text string) []Pair {
	var items []jsonCard
	if err := json.Unmarshal([]byte(text), &items); err == nil {
		return collectJSONCards(items)
	}

	var envelope struct {
		Cards []jsonCard `json:"cards"`
	}
	if err := json.Unmarshal([]byte(text), &envelope); err == nil {
		return collectJSONCards(envelope.Cards)
	}
	return nil
}

// fromBracketSpan rescues JSON buried in surrounding prose by slicing
// from the first bracket to its last matching counterpart.
func fromBracketSpan(text string) []Pair {
	for _, brackets := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(text, brackets[0])
		end := strings.LastIndex(text, brackets[1])
		if start < 0 || end <= start {
			continue
		}
		if pairs := fromJSON(text[start : end+1]); len(pairs) > 0 {
			return pairs
		}
	}
	return nil
}

// fromQALines scans alternating question/answer prefixed lines.
// Unprefixed lines continue the side most recently started; a question
// that never receives an answer is dropped.
func fromQALines(text string) []Pair {
	var pairs []Pair
	var question, answer []string
	const (
		modeNone = iota
		modeQuestion
		modeAnswer
	)
	mode := modeNone

	flush := func() {
		if len(question) > 0 && len(answer) > 0 {
			if p, ok := trimPair(strings.Join(question, "\n"), strings.Join(answer, "\n")); ok {
				pairs = append(pairs, p)
			}
		}
		question, answer = nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := prefixed(trimmed, "Q:", "Question:"); ok {
			flush()
			question = []string{rest}
			mode = modeQuestion
		} else if rest, ok := prefixed(trimmed, "A:", "Answer:"); ok {
			if len(question) > 0 && len(answer) == 0 {
				answer = []string{rest}
				mode = modeAnswer
			} else {
				mode = modeNone
			}
		} else if trimmed != "" {
			switch mode {
			case modeQuestion:
				question = append(question, trimmed)
			case modeAnswer:
				answer = append(answer, trimmed)
			}
		}
	}
	flush()
	return pairs
}

func prefixed(line string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if len(line) >= len(p) && strings.EqualFold(line[:len(p)], p) {
			return strings.TrimSpace(line[len(p):]), true
		}
	}
	return "", false
}

// fromTSV reads one card per tab-separated line.
func fromTSV(text string) []Pair {
	var pairs []Pair
	for _, line := range strings.Split(text, "\n") {
		front, back, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		if p, ok := trimPair(front, back); ok {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// fromCSV reads one card per comma-separated (quoted-field) row, first
// two columns as front/back.
func fromCSV(text string) []Pair {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil
	}

	var pairs []Pair
	for _, row := range records {
		if len(row) < 2 {
			continue
		}
		if p, ok := trimPair(row[0], row[1]); ok {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// Snippet shortens raw model output for log lines, collapsing
// whitespace. fromEnd selects the tail instead of the head.
func Snippet(text string, length int, fromEnd bool) string {
	clean := strings.Join(strings.Fields(text), " ")
	runes := []rune(clean)
	if len(runes) <= length {
		return clean
	}
	if fromEnd {
		return string(runes[len(runes)-length:])
	}
	return string(runes[:length])
}
