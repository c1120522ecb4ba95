package embedding

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

type Repository interface {
	// PendingRows returns up to limit rows with source text and no vector.
	PendingRows(ctx context.Context, t Table, limit int) ([]Row, error)
	SetEmbedding(ctx context.Context, t Table, id int64, v pgvector.Vector) error
}
