package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/statpipe/statpipe/internal/models"
	"github.com/statpipe/statpipe/internal/types"
)

// Builder turns a staged chunk set into an incremental index artifact.
type Builder struct {
	embedder  types.Embedder
	logger    *slog.Logger
	batchSize int
}

func NewBuilder(embedder types.Embedder, logger *slog.Logger) Builder {
	return Builder{embedder: embedder, logger: logger, batchSize: 32}
}

// Build embeds the chunks and returns the incremental artifact. An
// empty chunk set short-circuits to nil before the embedding
// collaborator is ever invoked; building an index over zero vectors is
// the failure mode this stage exists to avoid.
func (b Builder) Build(ctx context.Context, chunks []models.Chunk) (*Artifact, error) {
	if len(chunks) == 0 {
		b.logger.Info("no chunks staged, skipping index build")
		return nil, nil
	}

	artifact := &Artifact{Entries: make([]Entry, 0, len(chunks))}

	for start := 0; start < len(chunks); start += b.batchSize {
		end := start + b.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := b.embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		for i, vec := range vectors {
			if artifact.Dim == 0 {
				artifact.Dim = len(vec)
			} else if len(vec) != artifact.Dim {
				return nil, fmt.Errorf("embedder returned inconsistent dimensions: %d and %d", artifact.Dim, len(vec))
			}
			artifact.Entries = append(artifact.Entries, Entry{
				ID:     batch[i].ID,
				Source: batch[i].Source,
				Vector: vec,
			})
		}
	}

	b.logger.Info("built incremental index", "vectors", artifact.VectorCount(), "dim", artifact.Dim)
	return artifact, nil
}
