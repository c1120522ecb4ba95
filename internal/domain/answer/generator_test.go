package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type step struct {
	c     *Completion
	err   error
	block bool
}

type scriptedCompleter struct {
	mu    sync.Mutex
	steps []step
	calls int
	users []string
}

func (s *scriptedCompleter) Complete(ctx context.Context, _, user string) (*Completion, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.users = append(s.users, user)
	s.mu.Unlock()

	if i >= len(s.steps) {
		return nil, errors.New("unexpected call")
	}
	st := s.steps[i]
	if st.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return st.c, st.err
}

func newTestGenerator(c Completer) *Generator {
	return NewGenerator(c, "gpt-4o-mini", 50*time.Millisecond, time.Millisecond, zerolog.Nop())
}

const goodText = "The patient attended a cardiology control on 2 March 2024."

func TestGenerate_FirstAttempt(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{c: &Completion{Text: "  " + goodText + "\n", Model: "gpt-4o-mini-2024-07-18", TokensUsed: 42}}}}

	a, err := newTestGenerator(c).Generate(context.Background(), "What happened?", "CONTEXT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Text != goodText {
		t.Errorf("expected trimmed text, got %q", a.Text)
	}
	if a.Model != "gpt-4o-mini-2024-07-18" || a.TokensUsed != 42 || a.Confidence != DefaultConfidence {
		t.Errorf("unexpected answer: %+v", a)
	}
	if c.calls != 1 {
		t.Errorf("expected 1 call, got %d", c.calls)
	}
	if !strings.Contains(c.users[0], "CONTEXT") || !strings.Contains(c.users[0], "What happened?") {
		t.Errorf("expected user message to carry context and question, got %q", c.users[0])
	}
}

func TestGenerate_DefaultsModel(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{c: &Completion{Text: goodText}}}}
	a, err := newTestGenerator(c).Generate(context.Background(), "q", "ctx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Model != "gpt-4o-mini" {
		t.Errorf("expected configured model, got %q", a.Model)
	}
}

func TestGenerate_RetriesInvalidAttempts(t *testing.T) {
	tests := []struct {
		name  string
		first step
	}{
		{"error", step{err: errors.New("502 bad gateway")}},
		{"empty", step{c: &Completion{Text: ""}}},
		{"too short", step{c: &Completion{Text: "  ok  sure \n"}}},
		{"nil completion", step{}},
		{"timeout", step{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedCompleter{steps: []step{tt.first, {c: &Completion{Text: goodText}}}}
			a, err := newTestGenerator(c).Generate(context.Background(), "q", "ctx")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.Text != goodText {
				t.Errorf("expected second attempt text, got %q", a.Text)
			}
			if c.calls != 2 {
				t.Errorf("expected 2 calls, got %d", c.calls)
			}
		})
	}
}

func TestGenerate_Exhausted(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{block: true}, {block: true}, {c: &Completion{Text: goodText}}}}

	_, err := newTestGenerator(c).Generate(context.Background(), "q", "ctx")
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected last attempt error to be wrapped, got %v", err)
	}
	if c.calls != MaxAttempts {
		t.Errorf("expected %d calls, got %d", MaxAttempts, c.calls)
	}
}

func TestGenerate_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &scriptedCompleter{steps: []step{{c: &Completion{Text: goodText}}}}

	_, err := newTestGenerator(c).Generate(ctx, "q", "ctx")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrAttemptsExhausted) {
		t.Error("cancellation must not be reported as exhaustion")
	}
}

func TestValidAnswer(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"         ", false},
		{"a b c d e f g h i", false},
		{"abcdefghij", true},
		{" a b c d e f g h i j ", true},
	}
	for _, tt := range tests {
		if got := validAnswer(&Completion{Text: tt.text}); got != tt.want {
			t.Errorf("validAnswer(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
