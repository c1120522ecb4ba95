package db

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// PoolStats is the subset of pgxpool statistics exposed on /health/db.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func statsOf(pool *pgxpool.Pool) PoolStats {
	s := pool.Stat()
	return PoolStats{
		TotalConns:      s.TotalConns(),
		IdleConns:       s.IdleConns(),
		AcquiredConns:   s.AcquiredConns(),
		MaxConns:        s.MaxConns(),
		AcquireCount:    s.AcquireCount(),
		AcquireDuration: s.AcquireDuration().String(),
	}
}

// Prober checks the database the question pipeline depends on.
type Prober interface {
	Ping(ctx context.Context) error
	// VectorVersion returns the installed pgvector version, or
	// pgx.ErrNoRows when the extension is missing.
	VectorVersion(ctx context.Context) (string, error)
	Stats() PoolStats
}

type poolProber struct {
	pool *pgxpool.Pool
}

func (p poolProber) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p poolProber) VectorVersion(ctx context.Context) (string, error) {
	var v string
	err := p.pool.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&v)
	return v, err
}

func (p poolProber) Stats() PoolStats { return statsOf(p.pool) }

// HealthHandler reports "healthy" when the database answers and pgvector is
// installed, "degraded" when only semantic search is unavailable and
// "unhealthy" with a 503 when the database is unreachable.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return healthHandler(poolProber{pool: pool})
}

func healthHandler(p Prober) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		body := map[string]any{"pool": p.Stats()}
		if err := p.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		version, err := p.VectorVersion(ctx)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			body["status"] = "degraded"
			body["error"] = "vector extension is not installed"
		case err != nil:
			body["status"] = "degraded"
			body["error"] = err.Error()
		default:
			body["status"] = "healthy"
			body["vector_version"] = version
		}
		return c.JSON(http.StatusOK, body)
	}
}
