package audit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Insert(ctx context.Context, l *Log) error
	MaxSequence(ctx context.Context, userID int64, sessionID uuid.UUID) (int, error)
	// ListByUser returns entries newest first without their response payload.
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Log, int, error)
	// ListBySession returns entries ordered by sequence including payloads.
	ListBySession(ctx context.Context, userID int64, sessionID uuid.UUID) ([]*Log, error)
}
