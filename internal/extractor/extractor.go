// Package extractor converts source documents into page-marked plain
// text. Paginated formats interleave sentinel lines like "<<<PAGE 3>>>"
// before each page so downstream chunking can treat page boundaries as
// hard limits; formats without pagination yield no markers.
package extractor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Extractor converts one document file into plain text.
type Extractor interface {
	Extract(path string) (string, error)
}

// ExtractionError is an unreadable or malformed source document.
// It is fatal: extraction is never retried.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", filepath.Base(e.Path), e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

var pageMarkerRe = regexp.MustCompile(`^<<<PAGE\s+\d+>>>$`)

// PageMarker renders the sentinel line for a 1-based page number.
func PageMarker(page int) string {
	return fmt.Sprintf("<<<PAGE %d>>>", page)
}

// IsPageMarker reports whether a line is a page sentinel.
func IsPageMarker(line string) bool {
	return pageMarkerRe.MatchString(strings.TrimSpace(line))
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".pdf":      true,
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".docx":     true,
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ForFile returns the appropriate extractor for a filename.
func ForFile(filename string) (Extractor, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return &PDFExtractor{}, nil
	case ".txt":
		return &TextExtractor{}, nil
	case ".md", ".markdown":
		return &MarkdownExtractor{}, nil
	case ".html", ".htm":
		return &HTMLExtractor{}, nil
	case ".docx":
		return &DOCXExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(filename))
	}
}

// ExtractFile extracts a document to plain text, truncated to maxChars
// bytes (rune-aligned). maxChars <= 0 means no limit.
func ExtractFile(path string, maxChars int) (string, error) {
	ex, err := ForFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	text, err := ex.Extract(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	text = strings.TrimSpace(text)
	if maxChars > 0 && len(text) > maxChars {
		cut := maxChars
		for cut > 0 && text[cut]&0xC0 == 0x80 {
			cut--
		}
		text = text[:cut]
	}
	return text, nil
}
