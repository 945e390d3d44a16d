package extractor

import (
	"fmt"
	"os"
)

// TextExtractor handles plain text files. The text is returned as-is;
// with no page markers the whole document is one page.
type TextExtractor struct{}

func (t *TextExtractor) Extract(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	return string(data), nil
}
