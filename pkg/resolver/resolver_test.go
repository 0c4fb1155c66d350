package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statpipe/statpipe/internal/models"
	"github.com/statpipe/statpipe/pkg/resolver"
)

func doc(filename, title, release string, latest bool) models.Document {
	return models.Document{Filename: filename, Title: title, Release: release, Latest: latest}
}

func TestResolveSupersedes(t *testing.T) {
	committed := []models.Document{
		doc("2024-Economic-Survey.pdf", "2024 Economic Survey", "2024", true),
	}
	staged := []models.Document{
		doc("2025-Economic-Survey.pdf", "2025 Economic Survey", "2025", true),
	}

	res := resolver.Resolve(staged, committed, resolver.Config{Threshold: 75})

	require.Len(t, res.Superseded, 1)
	assert.Equal(t, "2025-Economic-Survey.pdf", res.Superseded[0].Staged)
	assert.Equal(t, "2024-Economic-Survey.pdf", res.Superseded[0].Committed)
	assert.GreaterOrEqual(t, res.Superseded[0].Score, 90)
	assert.Equal(t, []string{"2024-Economic-Survey.pdf"}, res.FormerLatest())
	assert.Empty(t, res.Errors)
}

func TestResolveNoMatch(t *testing.T) {
	committed := []models.Document{
		doc("2024-Economic-Survey.pdf", "2024 Economic Survey", "2024", true),
	}
	staged := []models.Document{
		doc("cpi-april-2025.pdf", "Consumer Price Index April 2025", "2025", true),
	}

	res := resolver.Resolve(staged, committed, resolver.Config{Threshold: 75})

	assert.Empty(t, res.Superseded, "dissimilar titles must stay independent")
	assert.Empty(t, res.FormerLatest())
}

func TestResolveIgnoresNonLatestCommitted(t *testing.T) {
	committed := []models.Document{
		doc("2023-Economic-Survey.pdf", "2023 Economic Survey", "2023", false),
		doc("2024-Economic-Survey.pdf", "2024 Economic Survey", "2024", true),
	}
	staged := []models.Document{
		doc("2025-Economic-Survey.pdf", "2025 Economic Survey", "2025", true),
	}

	res := resolver.Resolve(staged, committed, resolver.Config{Threshold: 75})

	// Only the currently latest edition is retired; 2023 was retired
	// in an earlier pass and must not reappear.
	assert.Equal(t, []string{"2024-Economic-Survey.pdf"}, res.FormerLatest())
}

func TestResolveAtMostOneStagedPerCommitted(t *testing.T) {
	committed := []models.Document{
		doc("2023-Economic-Survey.pdf", "2023 Economic Survey", "2023", true),
	}
	// Two staged editions of the same series: only the most recent
	// release retires the committed document.
	staged := []models.Document{
		doc("2024-Economic-Survey.pdf", "2024 Economic Survey", "2024", true),
		doc("2025-Economic-Survey.pdf", "2025 Economic Survey", "2025", true),
	}

	res := resolver.Resolve(staged, committed, resolver.Config{Threshold: 75})

	require.Len(t, res.Superseded, 1)
	assert.Equal(t, "2025-Economic-Survey.pdf", res.Superseded[0].Staged)
	assert.NotEmpty(t, res.Ambiguous, "the equal-score runner-up is flagged for review")
}

func TestResolveMalformedTitleFallsBack(t *testing.T) {
	committed := []models.Document{
		doc("2024-Economic-Survey.pdf", "2024 Economic Survey", "2024", true),
	}
	staged := []models.Document{
		doc("20250401.pdf", "20250401", "2025", true),
	}

	res := resolver.Resolve(staged, committed, resolver.Config{Threshold: 75})

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "20250401.pdf", res.Errors[0].Filename)
	assert.Empty(t, res.Superseded, "the offending document stays independent")
}

func TestResolveEmptyCommittedStore(t *testing.T) {
	staged := []models.Document{
		doc("2025-Economic-Survey.pdf", "2025 Economic Survey", "2025", true),
	}

	res := resolver.Resolve(staged, nil, resolver.Config{Threshold: 75})

	assert.Empty(t, res.Superseded)
	assert.Empty(t, res.Errors)
}

func TestResolveNeverRetiresMoreThanReplaced(t *testing.T) {
	committed := []models.Document{
		doc("2024-Economic-Survey.pdf", "2024 Economic Survey", "2024", true),
		doc("2024-Statistical-Abstract.pdf", "2024 Statistical Abstract", "2024", true),
	}
	staged := []models.Document{
		doc("2025-Economic-Survey.pdf", "2025 Economic Survey", "2025", true),
	}

	res := resolver.Resolve(staged, committed, resolver.Config{Threshold: 75})

	assert.LessOrEqual(t, len(res.FormerLatest()), len(staged),
		"a pass cannot retire more committed documents than it stages replacements for")
	assert.Equal(t, []string{"2024-Economic-Survey.pdf"}, res.FormerLatest())
}
