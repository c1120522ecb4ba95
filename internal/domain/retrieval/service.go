package retrieval

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// LookbackYears bounds how old a searchable record may be.
	LookbackYears = 5
	// MaxPerTable caps the rows taken from each table before merging.
	MaxPerTable = 10
)

type Service struct {
	store    Store
	embedder Embedder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(store Store, embedder Embedder, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		logger:   logger.With().Str("component", "retrieval").Logger(),
		now:      time.Now,
	}
}

// Search embeds the question and returns at most q.K chunks ordered by
// descending score, each scoring at least q.MinScore. Failures never
// propagate: an embedding error yields an empty result and a failing table
// is skipped.
func (s *Service) Search(ctx context.Context, q Query) []SimilarChunk {
	if q.K <= 0 {
		return nil
	}
	vec, err := s.embedder.EmbedQuery(ctx, q.Question)
	if err != nil {
		s.logger.Warn().Err(err).Int64("patient_id", q.PatientID).Msg("question embedding failed, skipping semantic search")
		return nil
	}
	if len(vec) == 0 {
		s.logger.Warn().Int64("patient_id", q.PatientID).Msg("embedding service returned an empty vector")
		return nil
	}

	embedding := pgvector.NewVector(vec)
	since := s.now().AddDate(-LookbackYears, 0, 0)
	limit := min(q.K, MaxPerTable)

	perTable := make([][]SimilarChunk, len(AllSources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range AllSources {
		if !q.allows(src) {
			continue
		}
		g.Go(func() error {
			chunks, err := s.store.SearchTable(gctx, src, q.PatientID, embedding, since, limit)
			if err != nil {
				s.logger.Warn().Err(err).Str("source_type", string(src)).Msg("vector search failed for table")
				return nil
			}
			perTable[i] = chunks
			return nil
		})
	}
	_ = g.Wait()

	return rank(perTable, q)
}

// rank merges per-table hits, drops those below the threshold or outside
// the allow-list, and keeps the best K. The sort is stable so equal scores
// keep table order.
func rank(perTable [][]SimilarChunk, q Query) []SimilarChunk {
	var merged []SimilarChunk
	for _, chunks := range perTable {
		for _, c := range chunks {
			if c.Score < q.MinScore || !q.allows(c.SourceType) {
				continue
			}
			merged = append(merged, c)
		}
	}
	slices.SortStableFunc(merged, func(a, b SimilarChunk) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(merged) > q.K {
		merged = merged[:q.K]
	}
	return merged
}
