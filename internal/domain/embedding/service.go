package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultLimit     = 100
	DefaultBatchSize = 16
	// MaxRetries is how many times a failed embedding call or row update is
	// retried before the rows are counted as failed.
	MaxRetries = 3
)

// DocumentEmbedder embeds a batch of texts, one vector per text in order.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Service struct {
	repo     Repository
	embedder DocumentEmbedder
	pause    time.Duration
	logger   zerolog.Logger
}

func NewService(repo Repository, embedder DocumentEmbedder, pause time.Duration, logger zerolog.Logger) *Service {
	if pause <= 0 {
		pause = time.Millisecond
	}
	return &Service{
		repo:     repo,
		embedder: embedder,
		pause:    pause,
		logger:   logger.With().Str("component", "embedding").Logger(),
	}
}

func (s *Service) backoff() retry.Backoff {
	return retry.WithMaxRetries(MaxRetries, retry.NewConstant(s.pause))
}

// Backfill embeds up to limit pending rows of each table in batches.
// Failed batches and rows are logged and counted; only a failure to list
// pending rows or a cancelled ctx stops the run.
func (s *Service) Backfill(ctx context.Context, tables []Table, limit, batchSize int) ([]Report, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	reports := make([]Report, 0, len(tables))
	for _, t := range tables {
		rep, err := s.backfillTable(ctx, t, limit, batchSize)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
		s.logger.Info().
			Str("table", string(t)).
			Int("pending", rep.Pending).
			Int("updated", rep.Updated).
			Int("failed", rep.Failed).
			Msg("embedding backfill finished")
	}
	return reports, nil
}

func (s *Service) backfillTable(ctx context.Context, t Table, limit, batchSize int) (Report, error) {
	rep := Report{Table: t}
	rows, err := s.repo.PendingRows(ctx, t, limit)
	if err != nil {
		return rep, fmt.Errorf("backfill %s: %w", t, err)
	}
	rep.Pending = len(rows)

	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		batch := rows[start:min(start+batchSize, len(rows))]
		vectors, err := s.embedBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			s.logger.Warn().Err(err).Str("table", string(t)).Int64("first_id", batch[0].ID).Int("rows", len(batch)).Msg("embedding batch failed")
			rep.Failed += len(batch)
			continue
		}

		for i, row := range batch {
			if len(vectors[i]) == 0 {
				s.logger.Warn().Str("table", string(t)).Int64("id", row.ID).Msg("empty embedding returned")
				rep.Failed++
				continue
			}
			if err := s.store(ctx, t, row.ID, pgvector.NewVector(vectors[i])); err != nil {
				if ctx.Err() != nil {
					return rep, ctx.Err()
				}
				s.logger.Warn().Err(err).Str("table", string(t)).Int64("id", row.ID).Msg("embedding update failed")
				rep.Failed++
				continue
			}
			rep.Updated++
		}
	}
	return rep, nil
}

var errLengthMismatch = errors.New("embedding count does not match input count")

func (s *Service) embedBatch(ctx context.Context, batch []Row) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.Text
	}
	return retry.DoValue(ctx, s.backoff(), func(ctx context.Context) ([][]float32, error) {
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("%w: got %d, want %d", errLengthMismatch, len(vectors), len(texts))
		}
		if err != nil {
			return nil, retry.RetryableError(err)
		}
		return vectors, nil
	})
}

func (s *Service) store(ctx context.Context, t Table, id int64, v pgvector.Vector) error {
	return retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		if err := s.repo.SetEmbedding(ctx, t, id, v); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
