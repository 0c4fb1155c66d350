// Package extract converts raw downloaded documents into page-wise
// structured records ready for chunking.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/statpipe/statpipe/internal/models"
	"github.com/statpipe/statpipe/internal/types"
)

// ExtractionError means the raw document yielded no text at all. It is
// fatal for that one document; the run continues for others.
type ExtractionError struct {
	Filename string
	Err      error
}

func (e ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Filename, e.Err)
}

func (e ExtractionError) Unwrap() error { return e.Err }

var releasePattern = regexp.MustCompile(`(19|20)\d{2}(-\d{2}(-\d{2})?)?`)

type Converter struct {
	extractor types.Extractor
	logger    *slog.Logger
}

func NewConverter(extractor types.Extractor, logger *slog.Logger) Converter {
	return Converter{extractor: extractor, logger: logger}
}

// Convert runs the extraction collaborator over the raw bytes and
// builds a Document with one Page per physical page. Pages with empty
// text are kept positionally so the page count stays verifiable. The
// returned page count is cross-checked against the extractor's own
// count; a mismatch is a ValidationError, never silently accepted.
func (c Converter) Convert(ctx context.Context, filename string, raw []byte) (models.Document, error) {
	pages, pageCount, err := c.extractor.Extract(ctx, raw)
	if err != nil {
		return models.Document{}, ExtractionError{Filename: filename, Err: err}
	}
	if len(pages) == 0 {
		return models.Document{}, ExtractionError{Filename: filename, Err: fmt.Errorf("no pages extracted")}
	}
	if len(pages) != pageCount {
		return models.Document{}, models.ValidationError{
			Filename: filename,
			Reason:   fmt.Sprintf("extracted %d pages but source reports %d", len(pages), pageCount),
		}
	}

	doc := models.Document{
		Filename: filename,
		Title:    deriveTitle(filename),
		Release:  deriveRelease(filename),
		Latest:   true,
		Pages:    make([]models.Page, 0, len(pages)),
	}
	for i, text := range pages {
		doc.Pages = append(doc.Pages, models.Page{Number: i + 1, Text: text})
	}

	c.logger.Debug("converted document",
		"filename", filename, "pages", len(doc.Pages), "release", doc.Release)
	return doc, nil
}

// deriveTitle turns a download filename like
// "2024-Economic-Survey.pdf" into "2024 Economic Survey".
func deriveTitle(filename string) string {
	name := filename
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// deriveRelease pulls the release identifier (year, optionally a full
// date) out of the filename. Missing identifiers are tolerated; they
// only weaken the resolver's tie-break.
func deriveRelease(filename string) string {
	return releasePattern.FindString(filename)
}
