// Package chunker splits converted documents into bounded overlapping
// text spans, the unit of retrieval indexing.
package chunker

import (
	"fmt"
	"strings"

	"github.com/statpipe/statpipe/internal/models"
)

type Config struct {
	MaxLength int // maximum chunk length in characters
	Overlap   int // characters shared with the preceding chunk
	MinLength int // chunks with shorter trimmed text are dropped
}

type Chunker struct {
	config Config
}

func NewWithConfig(config Config) Chunker {
	if config.MaxLength <= 0 {
		config.MaxLength = 1000
	}
	if config.Overlap < 0 {
		config.Overlap = 0
	}
	if config.MinLength < 0 {
		config.MinLength = 0
	}
	return Chunker{config: config}
}

// Chunk slides a fixed window over the concatenation of the document's
// page texts. Each chunk carries the page span it was cut from and the
// document's metadata. Stripping the overlap prefix of every chunk but
// the first and concatenating reconstructs the page text exactly, as
// long as no chunk fell below MinLength. Chunk ids carry a zero-padded
// ordinal so they sort in document order.
func (c Chunker) Chunk(doc models.Document) ([]models.Chunk, error) {
	if c.config.Overlap >= c.config.MaxLength {
		return nil, models.ValidationError{
			Filename: doc.Filename,
			Reason: fmt.Sprintf("chunk overlap %d must be less than chunk length %d",
				c.config.Overlap, c.config.MaxLength),
		}
	}

	text := []rune(doc.Text())
	if len(text) == 0 {
		return nil, nil
	}

	// Cumulative rune offset at which each page ends, for tagging
	// chunks with their page span.
	pageEnds := make([]int, len(doc.Pages))
	total := 0
	for i, p := range doc.Pages {
		total += len([]rune(p.Text))
		pageEnds[i] = total
	}

	pageAt := func(offset int) int {
		for i, end := range pageEnds {
			if offset < end {
				return doc.Pages[i].Number
			}
		}
		return doc.Pages[len(doc.Pages)-1].Number
	}

	step := c.config.MaxLength - c.config.Overlap
	base := doc.Base()

	var chunks []models.Chunk
	for i, start := 0, 0; start < len(text); i, start = i+1, start+step {
		end := start + c.config.MaxLength
		if end > len(text) {
			end = len(text)
		}
		span := string(text[start:end])

		if len(strings.TrimSpace(span)) >= c.config.MinLength {
			chunks = append(chunks, models.Chunk{
				ID:        fmt.Sprintf("%s_%04d", base, i),
				Source:    doc.Filename,
				Title:     doc.Title,
				Release:   doc.Release,
				Latest:    doc.Latest,
				Index:     i,
				PageStart: pageAt(start),
				PageEnd:   pageAt(end - 1),
				Text:      span,
			})
		}

		if end == len(text) {
			break
		}
	}

	return chunks, nil
}
