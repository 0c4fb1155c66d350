package types

import (
	"context"

	"github.com/statpipe/statpipe/internal/models"
)

// Source supplies download candidates and their raw bytes. The
// pipeline checks each candidate URL against the registry before
// fetching.
type Source interface {
	Discover(ctx context.Context) ([]models.SourceLink, error)
	Fetch(ctx context.Context, link models.SourceLink) ([]byte, error)
}

// Extractor turns raw document bytes into ordered per-page text plus
// an independently computed page count. The pipeline cross-checks the
// two; a mismatch is a validation error.
type Extractor interface {
	Extract(ctx context.Context, raw []byte) (pages []string, pageCount int, err error)
}

// Embedder converts chunk texts into vector representations.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}
