package retrieval

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Store runs a nearest-neighbour query against one clinical table, returning
// at most limit rows for the patient dated on or after since, closest first.
type Store interface {
	SearchTable(ctx context.Context, src SourceType, patientID int64, embedding pgvector.Vector, since time.Time, limit int) ([]SimilarChunk, error)
}

// Embedder turns a question into a vector. It is satisfied by langchaingo's
// embeddings.Embedder.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
