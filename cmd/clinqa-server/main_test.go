package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smarthealth/clinqa/internal/config"
	"github.com/smarthealth/clinqa/internal/domain/embedding"
	"github.com/smarthealth/clinqa/internal/platform/auth"
	"github.com/smarthealth/clinqa/internal/platform/db"
	"github.com/smarthealth/clinqa/internal/platform/llm"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string][]string{
		"serve":   nil,
		"migrate": {"up", "status"},
		"embed":   {"backfill"},
	}
	for name, subs := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %q command, got %v (err %v)", name, cmd, err)
		}
		for _, sub := range subs {
			c, _, err := root.Find([]string{name, sub})
			if err != nil || c.Name() != sub {
				t.Errorf("expected %s %s command, got %v (err %v)", name, sub, c, err)
			}
		}
	}
}

func TestEmbedBackfill_FlagDefaults(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"embed", "backfill"})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := cmd.Flags().GetString("table"); v != "all" {
		t.Errorf("expected table=all, got %q", v)
	}
	if v, _ := cmd.Flags().GetInt("limit"); v != embedding.DefaultLimit {
		t.Errorf("expected limit %d, got %d", embedding.DefaultLimit, v)
	}
	if v, _ := cmd.Flags().GetInt("batch"); v != embedding.DefaultBatchSize {
		t.Errorf("expected batch %d, got %d", embedding.DefaultBatchSize, v)
	}
}

func TestEmbedBackfill_RejectsUnknownTable(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"embed", "backfill", "--table", "invoices"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestRateLimitKey(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.9")
	c := e.NewContext(req, httptest.NewRecorder())
	if got := rateLimitKey(c); got != "ip:10.0.0.9" {
		t.Errorf("expected ip key, got %q", got)
	}

	req = req.WithContext(auth.WithUserID(req.Context(), 42))
	c = e.NewContext(req, httptest.NewRecorder())
	if got := rateLimitKey(c); got != "user:42" {
		t.Errorf("expected user key, got %q", got)
	}
}

func TestPrintStatuses(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	printStatuses(&buf, []db.MigrationStatus{
		{Version: 1, Name: "clinical_schema", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "audit_logs"},
	})
	out := buf.String()
	for _, want := range []string{"VERSION", "clinical_schema", "applied", "2025-01-02 03:04:05", "audit_logs", "pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestPrintReports(t *testing.T) {
	var buf bytes.Buffer
	printReports(&buf, []embedding.Report{
		{Table: embedding.TableMedicalRecords, Pending: 5, Updated: 4, Failed: 1},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	fields := strings.Fields(lines[1])
	if strings.Join(fields, " ") != "medical_records 5 4 1" {
		t.Errorf("unexpected row %q", lines[1])
	}
}

func TestNewProvider(t *testing.T) {
	logger := zerolog.Nop()

	p, err := newProvider(&config.Config{Env: "development"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(llm.Disabled); !ok {
		t.Errorf("expected llm.Disabled without a key in development, got %T", p)
	}

	t.Setenv("OPENAI_API_KEY", "")
	if _, err := newProvider(&config.Config{Env: "production"}, logger); err == nil {
		t.Error("expected error without a key in production")
	}

	p, err = newProvider(&config.Config{Env: "production", OpenAIAPIKey: "sk-test", LLMModel: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*llm.Client); !ok {
		t.Errorf("expected *llm.Client, got %T", p)
	}
}
