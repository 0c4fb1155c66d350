package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts per-page plain text from PDF bytes.
type PDFExtractor struct{}

func NewPDFExtractor() PDFExtractor {
	return PDFExtractor{}
}

// Extract returns one text entry per physical page, in order. Pages
// that yield no text become empty entries rather than being skipped,
// so positions and the page count stay consistent.
func (PDFExtractor) Extract(ctx context.Context, raw []byte) ([]string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open PDF: %w", err)
	}

	pageCount := reader.NumPage()
	if pageCount == 0 {
		return nil, 0, fmt.Errorf("PDF has no pages")
	}

	pages := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			// A single unreadable page keeps its slot empty.
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}

	return pages, pageCount, nil
}
