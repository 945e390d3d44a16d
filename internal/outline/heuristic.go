package outline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dhowlett/cardsmith/internal/extractor"
)

// Heuristic is the fallback partitioner: regex heading detection with
// size-bounded section splitting. It never calls a model; the model and
// userHint arguments exist only to satisfy Partitioner.
type Heuristic struct {
	// MaxSectionChars bounds one chunk's text before it is split on
	// paragraph boundaries.
	MaxSectionChars int
}

func NewHeuristic() *Heuristic {
	return &Heuristic{MaxSectionChars: 3500}
}

var (
	chapterRe = regexp.MustCompile(`(?i)^(Chapter|Section)\b`)
	numberedRe = regexp.MustCompile(`^\d+(\.\d+)*\s+\S+`)
)

func (h *Heuristic) Partition(_ context.Context, text, _, _ string) ([]Chunk, error) {
	maxChars := h.MaxSectionChars
	if maxChars <= 0 {
		maxChars = 3500
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if extractor.IsPageMarker(line) {
			continue
		}
		lines = append(lines, line)
	}

	type section struct {
		title string
		lines []string
	}
	var sections []section
	currentTitle := "Introduction"
	var currentLines []string

	for _, line := range lines {
		if line == "" && len(currentLines) == 0 {
			continue
		}
		if isHeading(line) {
			if len(currentLines) > 0 {
				sections = append(sections, section{title: currentTitle, lines: currentLines})
			}
			currentTitle = line
			currentLines = nil
		} else {
			currentLines = append(currentLines, line)
		}
	}
	if len(currentLines) > 0 {
		sections = append(sections, section{title: currentTitle, lines: currentLines})
	}

	if len(sections) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, outlineErrorf("empty document text")
		}
		return []Chunk{{Index: 0, Title: "Document", Text: trimmed}}, nil
	}

	var chunks []Chunk
	for _, sec := range sections {
		parts := splitLargeSection(strings.Join(sec.lines, "\n"), maxChars)
		for i, part := range parts {
			title := sec.title
			if i > 0 {
				title = fmt.Sprintf("%s (Part %d)", title, i+1)
			}
			chunks = append(chunks, Chunk{
				Index: len(chunks),
				Path:  []string{sec.title},
				Title: title,
				Text:  part,
			})
		}
	}
	return chunks, nil
}

func isHeading(line string) bool {
	if chapterRe.MatchString(line) {
		return true
	}
	if numberedRe.MatchString(line) {
		return true
	}
	if len(line) >= 5 && line == strings.ToUpper(line) && strings.ContainsFunc(line, isLetter) {
		return true
	}
	return false
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

var paragraphBreakRe = regexp.MustCompile(`\n{2,}`)

// splitLargeSection breaks an oversized section on paragraph boundaries
// so no chunk exceeds maxChars (a single huge paragraph still becomes
// its own chunk).
func splitLargeSection(text string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	paragraphs := paragraphBreakRe.Split(text, -1)
	var parts []string
	var current strings.Builder

	for _, para := range paragraphs {
		if current.Len() > 0 && current.Len()+len(para)+2 > maxChars {
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		parts = append(parts, strings.TrimSpace(current.String()))
	}
	return parts
}
