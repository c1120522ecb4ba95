package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/smarthealth/clinqa/internal/config"
	"github.com/smarthealth/clinqa/internal/domain/account"
	"github.com/smarthealth/clinqa/internal/domain/answer"
	"github.com/smarthealth/clinqa/internal/domain/audit"
	"github.com/smarthealth/clinqa/internal/domain/chat"
	"github.com/smarthealth/clinqa/internal/domain/clinical"
	"github.com/smarthealth/clinqa/internal/domain/embedding"
	"github.com/smarthealth/clinqa/internal/domain/prompt"
	"github.com/smarthealth/clinqa/internal/domain/query"
	"github.com/smarthealth/clinqa/internal/domain/retrieval"
	"github.com/smarthealth/clinqa/internal/platform/auth"
	"github.com/smarthealth/clinqa/internal/platform/db"
	"github.com/smarthealth/clinqa/internal/platform/llm"
	"github.com/smarthealth/clinqa/internal/platform/middleware"
	"github.com/smarthealth/clinqa/internal/platform/websocket"
)

const version = "0.1.0"

// requestTimeoutMargin keeps the HTTP backstop above the query budget so
// the handler can still answer with a REQUEST_TIMEOUT envelope.
const requestTimeoutMargin = 5 * time.Second

// provider is everything the service needs from the model host.
type provider interface {
	answer.Completer
	retrieval.Embedder
	embedding.DocumentEmbedder
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clinqa-server",
		Short: "Clinical records question-answering server",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(embedCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				migrator := db.NewMigrator(pool, dir, cfg.DBSchema)
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", cfg.DBSchema)
				count, err := migrator.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, dir, cfg.DBSchema).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migration status for schema: %s\n", cfg.DBSchema)
				printStatuses(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func embedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Manage stored embeddings",
	}

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed rows whose source text has no vector yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			tableFlag, _ := cmd.Flags().GetString("table")
			limit, _ := cmd.Flags().GetInt("limit")
			batch, _ := cmd.Flags().GetInt("batch")
			tables, err := embedding.ParseTables(tableFlag)
			if err != nil {
				return err
			}

			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg.Env)
				client, err := llm.New(llmConfig(cfg))
				if err != nil {
					return err
				}
				svc := embedding.NewService(embedding.NewRepo(pool), client, time.Second, logger)
				reports, err := svc.Backfill(ctx, tables, limit, batch)
				printReports(cmd.OutOrStdout(), reports)
				return err
			})
		},
	}
	backfillCmd.Flags().String("table", "all", "Table to backfill: all, medical_records, appointments, diagnoses or medications")
	backfillCmd.Flags().Int("limit", embedding.DefaultLimit, "Maximum rows per table")
	backfillCmd.Flags().Int("batch", embedding.DefaultBatchSize, "Texts per embedding request")
	cmd.AddCommand(backfillCmd)

	return cmd
}

// withPool loads config, opens a pool for one command and closes it after.
func withPool(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func printReports(w io.Writer, reports []embedding.Report) {
	fmt.Fprintf(w, "%-16s %8s %8s %8s\n", "TABLE", "PENDING", "UPDATED", "FAILED")
	for _, r := range reports {
		fmt.Fprintf(w, "%-16s %8d %8d %8d\n", r.Table, r.Pending, r.Updated, r.Failed)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func llmConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Temperature:    cfg.LLMTemperature,
		MaxTokens:      cfg.LLMMaxTokens,
	}
}

// newProvider returns the hosted model client. Without an API key in
// development it returns llm.Disabled so the server still starts.
func newProvider(cfg *config.Config, logger zerolog.Logger) (provider, error) {
	if cfg.OpenAIAPIKey == "" && cfg.IsDev() {
		logger.Warn().Msg("OPENAI_API_KEY not set; answers will use the record summary and semantic search is off")
		return llm.Disabled{}, nil
	}
	return llm.New(llmConfig(cfg))
}

// rateLimitKey buckets authenticated callers by user and everyone else by IP.
func rateLimitKey(c echo.Context) string {
	if uid, ok := auth.UserIDFromContext(c.Request().Context()); ok {
		return "user:" + strconv.FormatInt(uid, 10)
	}
	return "ip:" + c.RealIP()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	tokenizer, err := prompt.NewTiktokenizer(prompt.DefaultEncoding)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load tokenizer")
	}
	models, err := newProvider(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create model client")
	}

	verifier := auth.NewVerifier(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		SigningKey: []byte(cfg.JWTSecret),
	})

	// Domain services
	clinicalSvc := clinical.NewService(clinical.NewRepo(pool), logger)
	searchSvc := retrieval.NewService(retrieval.NewStore(pool), models, logger)
	generator := answer.NewGenerator(models, cfg.LLMModel, cfg.LLMTimeout, cfg.LLMRetryPause, logger)
	accountSvc := account.NewService(account.NewUserRepo(pool))
	auditSvc := audit.NewService(audit.NewRepo(pool), accountSvc, logger)
	orchestrator := query.NewOrchestrator(clinicalSvc, searchSvc, prompt.NewBuilder(tokenizer), generator, auditSvc, query.Options{
		QueryTimeout:     cfg.QueryTimeout,
		SearchTimeout:    cfg.SearchTimeout,
		ContextMaxTokens: cfg.ContextMaxTokens,
		TopK:             cfg.SearchTopK,
		MinScore:         cfg.SearchMinScore,
		Model:            cfg.LLMModel,
		ExposeErrors:     cfg.IsDev(),
	}, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.Sanitize())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.QueryTimeout + requestTimeoutMargin))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	if cfg.IsDev() {
		logger.Warn().Int64("user_id", auth.DevUserID).Msg("requests without a token run as the development user")
		e.Use(auth.DevAuthMiddleware(verifier))
	} else {
		e.Use(auth.JWTMiddleware(verifier))
	}

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		KeyFunc:           rateLimitKey,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
		rateLimitCfg.KeyFunc = rateLimitKey
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	query.NewHandler(orchestrator).RegisterRoutes(apiV1)
	audit.NewHandler(auditSvc).RegisterRoutes(apiV1)

	hub := websocket.NewHub()
	chatHandler := chat.NewHandler(
		hub,
		websocket.NewSlidingWindow(cfg.WSRateLimit, time.Minute),
		verifier,
		websocket.NewUpgrader(cfg.CORSOrigins),
		orchestrator,
		chat.Options{
			MaxMessageBytes: cfg.WSMaxMessageBytes,
			IdleTimeout:     cfg.WSIdleTimeout,
			TokenDelay:      cfg.WSTokenDelay,
		},
		logger,
	)
	chatHandler.RegisterRoutes(e)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Int("websocket_clients", hub.ClientCount()).Msg("shutting down server")
	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
