package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/smarthealth/clinqa/internal/platform/auth"
)

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), svc, echo.New()
}

func authedRequest(target string, uid int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return req.WithContext(auth.WithUserID(req.Context(), uid))
}

func TestHandler_ListHistory(t *testing.T) {
	h, svc, e := newTestHandler()
	session := uuid.New().String()
	for i := 1; i <= 3; i++ {
		if err := svc.Record(context.Background(), entry(session, i)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(authedRequest("/api/v1/history?limit=2", 1), rec)
	if err := h.ListHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data    []Log `json:"data"`
		Total   int   `json:"total"`
		Limit   int   `json:"limit"`
		HasMore bool  `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 || len(body.Data) != 2 || !body.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", body.Total, len(body.Data), body.HasMore)
	}
	if body.Data[0].SequenceChatID != 3 {
		t.Errorf("expected newest first, got sequence %d", body.Data[0].SequenceChatID)
	}
}

func TestHandler_ListHistory_Empty(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(authedRequest("/api/v1/history", 1), rec)
	if err := h.ListHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(body["data"]) != "[]" {
		t.Errorf("expected empty array, got %s", body["data"])
	}
}

func TestHandler_ListHistory_Unauthenticated(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/history", nil), httptest.NewRecorder())
	err := h.ListHistory(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_GetSession(t *testing.T) {
	h, svc, e := newTestHandler()
	session := uuid.New()
	_ = svc.Record(context.Background(), entry(session.String(), 1))

	tests := []struct {
		name     string
		param    string
		wantCode int
	}{
		{"found", session.String(), http.StatusOK},
		{"malformed", "not-a-uuid", http.StatusBadRequest},
		{"unknown", uuid.New().String(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(authedRequest("/", 1), rec)
			c.SetParamNames("session_id")
			c.SetParamValues(tt.param)

			err := h.GetSession(c)
			if tt.wantCode == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				var body struct {
					Messages []Log `json:"messages"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if len(body.Messages) != 1 || string(body.Messages[0].Response) != `{"status":"success"}` {
					t.Errorf("unexpected messages: %+v", body.Messages)
				}
				return
			}
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != tt.wantCode {
				t.Errorf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}
