package chunker_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statpipe/statpipe/internal/models"
	"github.com/statpipe/statpipe/pkg/chunker"
)

func docWithPages(texts ...string) models.Document {
	doc := models.Document{
		Filename: "economic-survey-2024.pdf",
		Title:    "Economic Survey 2024",
		Release:  "2024",
		Latest:   true,
	}
	for i, t := range texts {
		doc.Pages = append(doc.Pages, models.Page{Number: i + 1, Text: t})
	}
	return doc
}

// dechunk undoes the windowing: it strips each chunk's overlap prefix
// and concatenates what remains.
func dechunk(chunks []models.Chunk, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		text := []rune(c.Text)
		if i > 0 && len(text) > overlap {
			text = text[overlap:]
		} else if i > 0 {
			text = nil
		}
		b.WriteString(string(text))
	}
	return b.String()
}

func TestChunkReconstruction(t *testing.T) {
	doc := docWithPages(
		strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20),
		strings.Repeat("gross domestic product grew in the second quarter. ", 15),
	)

	configs := []chunker.Config{
		{MaxLength: 100, Overlap: 0},
		{MaxLength: 100, Overlap: 20},
		{MaxLength: 250, Overlap: 50},
		{MaxLength: 64, Overlap: 63},
	}

	for _, cfg := range configs {
		c := chunker.NewWithConfig(cfg)
		chunks, err := c.Chunk(doc)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		for _, ch := range chunks {
			assert.LessOrEqual(t, len([]rune(ch.Text)), cfg.MaxLength)
		}
		assert.Equal(t, doc.Text(), dechunk(chunks, cfg.Overlap),
			"max=%d overlap=%d", cfg.MaxLength, cfg.Overlap)
	}
}

func TestChunkMetadata(t *testing.T) {
	doc := docWithPages(
		strings.Repeat("a", 120),
		strings.Repeat("b", 120),
	)

	c := chunker.NewWithConfig(chunker.Config{MaxLength: 100, Overlap: 0})
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "economic-survey-2024_0000", chunks[0].ID)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[0].PageStart)
	assert.Equal(t, 1, chunks[0].PageEnd)

	// Second window straddles the page boundary at offset 120.
	assert.Equal(t, 1, chunks[1].PageStart)
	assert.Equal(t, 2, chunks[1].PageEnd)

	assert.Equal(t, 2, chunks[2].PageStart)
	assert.Equal(t, 2, chunks[2].PageEnd)

	for _, ch := range chunks {
		assert.Equal(t, doc.Filename, ch.Source)
		assert.Equal(t, doc.Title, ch.Title)
		assert.Equal(t, doc.Release, ch.Release)
		assert.True(t, ch.Latest)
	}
}

func TestChunkIDsSortInDocumentOrder(t *testing.T) {
	doc := docWithPages(strings.Repeat("z", 1200))

	c := chunker.NewWithConfig(chunker.Config{MaxLength: 100, Overlap: 0})
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 12)

	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted, "lexicographic id order must match document order")
}

func TestChunkMinLengthFilter(t *testing.T) {
	// 100 characters of content followed by a whitespace tail: the
	// final window trims to nothing and is dropped.
	doc := docWithPages(strings.Repeat("x", 100) + strings.Repeat(" ", 30))

	c := chunker.NewWithConfig(chunker.Config{MaxLength: 100, Overlap: 0, MinLength: 10})
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.Repeat("x", 100), chunks[0].Text)
}

func TestChunkEmptyDocument(t *testing.T) {
	doc := docWithPages("", "", "")

	c := chunker.NewWithConfig(chunker.Config{MaxLength: 100, Overlap: 10})
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkInvalidOverlap(t *testing.T) {
	doc := docWithPages("some text")

	c := chunker.NewWithConfig(chunker.Config{MaxLength: 100, Overlap: 100})
	_, err := c.Chunk(doc)

	var verr models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, doc.Filename, verr.Filename)
}
