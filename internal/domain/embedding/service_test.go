package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	mu       sync.Mutex
	pending  map[Table][]Row
	listErr  error
	failIDs  map[int64]int // remaining failures per id; -1 fails forever
	updated  map[Table]map[int64][]float32
	updCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		pending: make(map[Table][]Row),
		failIDs: make(map[int64]int),
		updated: make(map[Table]map[int64][]float32),
	}
}

func (m *mockRepo) PendingRows(_ context.Context, t Table, limit int) ([]Row, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	rows := m.pending[t]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *mockRepo) SetEmbedding(_ context.Context, t Table, id int64, v pgvector.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updCalls++
	if n, ok := m.failIDs[id]; ok && n != 0 {
		if n > 0 {
			m.failIDs[id] = n - 1
		}
		return fmt.Errorf("update %d: connection reset", id)
	}
	if m.updated[t] == nil {
		m.updated[t] = make(map[int64][]float32)
	}
	m.updated[t][id] = v.Slice()
	return nil
}

type mockEmbedder struct {
	mu       sync.Mutex
	calls    int
	batches  [][]string
	failures int // leading calls that fail
	fail     func(texts []string) bool
	short    bool
}

func (m *mockEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.batches = append(m.batches, texts)
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("429 too many requests")
	}
	if m.fail != nil && m.fail(texts) {
		return nil, errors.New("502 bad gateway")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	if m.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func rows(ids ...int64) []Row {
	out := make([]Row, len(ids))
	for i, id := range ids {
		out[i] = Row{ID: id, Text: fmt.Sprintf("text %d", id)}
	}
	return out
}

func newTestService(repo Repository, emb DocumentEmbedder) *Service {
	return NewService(repo, emb, 0, zerolog.Nop())
}

func TestBackfill_Batches(t *testing.T) {
	repo := newMockRepo()
	repo.pending[TableMedicalRecords] = rows(1, 2, 3, 4, 5)
	emb := &mockEmbedder{}

	reports, err := newTestService(repo, emb).Backfill(context.Background(), []Table{TableMedicalRecords}, 100, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if r := reports[0]; r.Pending != 5 || r.Updated != 5 || r.Failed != 0 {
		t.Errorf("unexpected report: %+v", r)
	}
	if emb.calls != 3 {
		t.Errorf("expected 3 batches, got %d", emb.calls)
	}
	if len(emb.batches[2]) != 1 || emb.batches[2][0] != "text 5" {
		t.Errorf("unexpected last batch %v", emb.batches[2])
	}
	if got := repo.updated[TableMedicalRecords][3]; len(got) != 2 || got[0] != 6 {
		t.Errorf("unexpected stored vector %v", got)
	}
}

func TestBackfill_AllTablesAndLimit(t *testing.T) {
	repo := newMockRepo()
	for i, table := range AllTables {
		base := int64(i * 10)
		repo.pending[table] = rows(base+1, base+2, base+3)
	}

	reports, err := newTestService(repo, &mockEmbedder{}).Backfill(context.Background(), AllTables, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != len(AllTables) {
		t.Fatalf("expected %d reports, got %d", len(AllTables), len(reports))
	}
	for i, r := range reports {
		if r.Table != AllTables[i] || r.Pending != 2 || r.Updated != 2 {
			t.Errorf("report %d: %+v", i, r)
		}
	}
}

func TestBackfill_RetriesTransientEmbeddingFailure(t *testing.T) {
	repo := newMockRepo()
	repo.pending[TableDiagnoses] = rows(1, 2)
	emb := &mockEmbedder{failures: MaxRetries}

	reports, err := newTestService(repo, emb).Backfill(context.Background(), []Table{TableDiagnoses}, 10, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reports[0].Updated != 2 {
		t.Errorf("expected recovery after %d failures, got %+v", MaxRetries, reports[0])
	}
	if emb.calls != MaxRetries+1 {
		t.Errorf("expected %d calls, got %d", MaxRetries+1, emb.calls)
	}
}

func TestBackfill_FailedBatchDoesNotAbort(t *testing.T) {
	repo := newMockRepo()
	repo.pending[TableAppointments] = rows(1, 2, 3, 4)
	emb := &mockEmbedder{fail: func(texts []string) bool { return texts[0] == "text 1" }}

	reports, err := newTestService(repo, emb).Backfill(context.Background(), []Table{TableAppointments}, 10, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r := reports[0]; r.Updated != 2 || r.Failed != 2 {
		t.Errorf("unexpected report: %+v", r)
	}
	// First batch: 1 call + MaxRetries retries. Second batch: 1 call.
	if emb.calls != MaxRetries+2 {
		t.Errorf("expected %d calls, got %d", MaxRetries+2, emb.calls)
	}
}

func TestBackfill_LengthMismatchCountsBatchFailed(t *testing.T) {
	repo := newMockRepo()
	repo.pending[TableMedications] = rows(1, 2)

	reports, err := newTestService(repo, &mockEmbedder{short: true}).Backfill(context.Background(), []Table{TableMedications}, 10, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r := reports[0]; r.Updated != 0 || r.Failed != 2 {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestBackfill_RowUpdateFailures(t *testing.T) {
	repo := newMockRepo()
	repo.pending[TableMedicalRecords] = rows(1, 2, 3)
	repo.failIDs[1] = 2  // transient
	repo.failIDs[2] = -1 // permanent

	reports, err := newTestService(repo, &mockEmbedder{}).Backfill(context.Background(), []Table{TableMedicalRecords}, 10, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r := reports[0]; r.Updated != 2 || r.Failed != 1 {
		t.Errorf("unexpected report: %+v", r)
	}
	if _, ok := repo.updated[TableMedicalRecords][2]; ok {
		t.Error("row 2 should not be stored")
	}
}

func TestBackfill_ListErrorStops(t *testing.T) {
	repo := newMockRepo()
	repo.listErr = errors.New("relation \"medical_records\" does not exist")

	reports, err := newTestService(repo, &mockEmbedder{}).Backfill(context.Background(), AllTables, 10, 10)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(reports) != 1 {
		t.Errorf("expected to stop after the first table, got %d reports", len(reports))
	}
}

func TestBackfill_CancelledContext(t *testing.T) {
	repo := newMockRepo()
	repo.pending[TableMedicalRecords] = rows(1, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestService(repo, &mockEmbedder{}).Backfill(ctx, []Table{TableMedicalRecords}, 10, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if repo.updCalls != 0 {
		t.Error("expected no updates after cancellation")
	}
}

func TestParseTables(t *testing.T) {
	tests := []struct {
		in      string
		want    []Table
		wantErr bool
	}{
		{"", AllTables, false},
		{"all", AllTables, false},
		{"ALL", AllTables, false},
		{"medications", []Table{TableMedications}, false},
		{" diagnoses ", []Table{TableDiagnoses}, false},
		{"patients", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTables(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTables(%q) error = %v", tt.in, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseTables(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseTables(%q)[%d] = %s, want %s", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}
