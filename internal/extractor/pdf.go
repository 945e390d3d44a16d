package extractor

import (
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFExtractor extracts per-page text from PDF files.
type PDFExtractor struct{}

func (p *PDFExtractor) Extract(path string) (string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(PageMarker(i))
		buf.WriteString("\n")
		buf.WriteString(strings.TrimSpace(text))
		buf.WriteString("\n")
	}

	if strings.TrimSpace(buf.String()) == "" {
		return "", fmt.Errorf("no extractable text in %d pages", numPages)
	}
	return buf.String(), nil
}
