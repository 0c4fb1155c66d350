package models

import (
	"fmt"
	"strings"
)

// SourceRecord identifies one downloaded source file. The URL is the
// stable primary key; the registry stores records keyed by filename.
type SourceRecord struct {
	URL        string `json:"url"`
	OriginPage string `json:"origin_page"`
}

// SourceLink is a download candidate discovered on a listing page,
// before any dedup has been applied.
type SourceLink struct {
	URL        string
	Filename   string
	OriginPage string
}

// Page holds the extracted text of one physical page. Numbers are
// 1-based and contiguous within a document.
type Page struct {
	Number int    `json:"page"`
	Text   string `json:"text"`
}

// Document is one ingested publication. Content is immutable after
// conversion; only the Latest flag is ever rewritten.
type Document struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Release  string `json:"release"`
	Latest   bool   `json:"latest"`
	Pages    []Page `json:"pages"`
}

// Text returns the concatenation of all page texts in order.
func (d Document) Text() string {
	var b strings.Builder
	for _, p := range d.Pages {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Base returns the document filename without its extension, used as
// the prefix for derived chunk files.
func (d Document) Base() string {
	name := d.Filename
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

// Chunk is a bounded-length overlapping text span derived from a
// document, the unit indexed for retrieval.
type Chunk struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Title     string `json:"title"`
	Release   string `json:"release"`
	Latest    bool   `json:"latest"`
	Index     int    `json:"index"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
	Text      string `json:"text"`
}

// ValidationError reports a structural inconsistency in a converted
// document or derived chunk, fatal for that document only.
type ValidationError struct {
	Filename string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Filename, e.Reason)
}
