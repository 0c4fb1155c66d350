// Package resolver decides whether each newly staged document is an
// independent publication or a newer edition superseding a committed
// one, by fuzzy-matching normalised titles. A match is a candidate,
// never a guarantee: the design tolerates treating two editions as
// unrelated over silently retiring a current publication.
package resolver

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/statpipe/statpipe/internal/models"
)

// Near-equal candidate scores within this margin are surfaced for
// manual review.
const ambiguityMargin = 3

type Config struct {
	// Threshold is the minimum similarity score (0..100) for a staged
	// document to be treated as a new edition of a committed one.
	Threshold int
}

// ResolverError reports a document whose title could not be matched.
// Non-fatal: the document falls back to new/independent.
type ResolverError struct {
	Filename string
	Reason   string
}

func (e ResolverError) Error() string {
	return fmt.Sprintf("%s: %s", e.Filename, e.Reason)
}

// Match pairs a staged document with the committed document it
// supersedes.
type Match struct {
	Staged    string `json:"staged"`    // staged document filename
	Committed string `json:"committed"` // committed document filename, latest flag to clear
	Score     int    `json:"score"`
}

// Resolution is the outcome of one resolver pass. It is pure data; the
// merge coordinator applies the flag flips during promotion.
type Resolution struct {
	// Superseded lists accepted matches, at most one per committed
	// document and at most one per staged document.
	Superseded []Match
	// Ambiguous lists rejected runner-up matches that scored within
	// the ambiguity margin of an accepted one.
	Ambiguous []Match
	Errors    []ResolverError
}

// FormerLatest returns the committed filenames whose latest flag must
// be cleared.
func (r Resolution) FormerLatest() []string {
	names := make([]string, 0, len(r.Superseded))
	for _, m := range r.Superseded {
		names = append(names, m.Committed)
	}
	sort.Strings(names)
	return names
}

// Resolve compares every staged document against the committed
// documents currently flagged latest. Staged documents always end up
// latest; what is decided here is which committed documents they
// retire. The pass never retires more committed documents than it has
// staged replacements for, so the total latest count cannot drop to
// zero while documents exist.
func Resolve(staged, committed []models.Document, config Config) Resolution {
	var res Resolution

	committedLatest := make([]models.Document, 0, len(committed))
	for _, doc := range committed {
		if doc.Latest {
			committedLatest = append(committedLatest, doc)
		}
	}
	if len(committedLatest) == 0 || len(staged) == 0 {
		return res
	}

	type candidate struct {
		Match
		release string
	}
	var candidates []candidate

	for _, doc := range staged {
		title := normalizeTitle(doc.Title)
		if title == "" {
			res.Errors = append(res.Errors, ResolverError{
				Filename: doc.Filename,
				Reason:   fmt.Sprintf("title %q normalises to nothing, treating as independent", doc.Title),
			})
			continue
		}

		for _, prev := range committedLatest {
			prevTitle := normalizeTitle(prev.Title)
			if prevTitle == "" {
				continue
			}
			score := fuzzy.Ratio(title, prevTitle)
			if score >= config.Threshold {
				candidates = append(candidates, candidate{
					Match:   Match{Staged: doc.Filename, Committed: prev.Filename, Score: score},
					release: doc.Release,
				})
			}
		}
	}

	// Highest score wins; ties broken by most recent release
	// identifier (release ids sort chronologically as strings).
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].release > candidates[j].release
	})

	usedStaged := make(map[string]bool)
	usedCommitted := make(map[string]bool)
	accepted := make(map[string]int) // committed filename -> accepted score

	for _, c := range candidates {
		if usedCommitted[c.Committed] {
			if accepted[c.Committed]-c.Score < ambiguityMargin && !usedStaged[c.Staged] {
				res.Ambiguous = append(res.Ambiguous, c.Match)
			}
			continue
		}
		if usedStaged[c.Staged] {
			continue
		}
		usedStaged[c.Staged] = true
		usedCommitted[c.Committed] = true
		accepted[c.Committed] = c.Score
		res.Superseded = append(res.Superseded, c.Match)
	}

	return res
}

// normalizeTitle makes titles comparable across editions: lowercase,
// digits stripped, whitespace collapsed. "Economic Survey 2024" and
// "Economic Survey 2025" normalise to the same string.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
