package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	// MaxAttempts is the number of completion calls before giving up.
	MaxAttempts = 2
	// MinAnswerChars is the minimum count of non-whitespace characters for
	// a completion to be accepted.
	MinAnswerChars = 10
	// DefaultConfidence is reported for model-generated answers.
	DefaultConfidence = 0.85
)

const systemPrompt = `You are a friendly and professional medical assistant.
You answer in a conversational tone, like in a chat, without Markdown symbols such as ### or **.

INSTRUCTIONS:
1. Answer ONLY with information from the clinical context provided.
2. If the context does not contain the answer, say "I don't have that information in the record".
3. Use clear, natural language, as if speaking with a colleague.
4. Organize the information chronologically when relevant.
5. Mention dates, medications and diagnoses naturally in the text.
6. Do NOT use headings, bold text or bullet lists. Write flowing paragraphs instead.
7. Separate ideas with single line breaks for readability.`

var (
	ErrAttemptsExhausted = errors.New("completion attempts exhausted")
	errInvalidAnswer     = errors.New("completion too short")
)

// Completion is the raw result of one model call.
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// Completer sends one system + user message exchange to a chat model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (*Completion, error)
}

// Answer is an accepted model answer.
type Answer struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model_used"`
	TokensUsed int     `json:"-"`
}

type Generator struct {
	completer      Completer
	model          string
	attemptTimeout time.Duration
	pause          time.Duration
	logger         zerolog.Logger
}

// NewGenerator builds a Generator. model is reported when the provider does
// not echo one back.
func NewGenerator(completer Completer, model string, attemptTimeout, pause time.Duration, logger zerolog.Logger) *Generator {
	if pause <= 0 {
		pause = time.Millisecond
	}
	return &Generator{
		completer:      completer,
		model:          model,
		attemptTimeout: attemptTimeout,
		pause:          pause,
		logger:         logger.With().Str("component", "answer").Logger(),
	}
}

// Generate asks the model to answer question from clinicalContext. Each
// attempt has its own deadline; a timeout, error, or too-short answer
// consumes an attempt. After MaxAttempts it returns an error wrapping
// ErrAttemptsExhausted. Cancellation of ctx is returned as is.
func (g *Generator) Generate(ctx context.Context, question, clinicalContext string) (*Answer, error) {
	user := fmt.Sprintf("CLINICAL CONTEXT:\n%s\n\nUSER QUESTION:\n%s\n\nAnswer only with information from the context.", clinicalContext, question)

	attempt := 0
	backoff := retry.WithMaxRetries(MaxAttempts-1, retry.NewConstant(g.pause))
	result, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (*Answer, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
		defer cancel()

		c, err := g.completer.Complete(actx, systemPrompt, user)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil && !validAnswer(c) {
			err = errInvalidAnswer
		}
		if err != nil {
			g.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", MaxAttempts).Msg("completion attempt failed")
			return nil, retry.RetryableError(err)
		}

		model := c.Model
		if model == "" {
			model = g.model
		}
		return &Answer{
			Text:       strings.TrimSpace(c.Text),
			Confidence: DefaultConfidence,
			Model:      model,
			TokensUsed: c.TokensUsed,
		}, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
	}
	g.logger.Debug().Int("attempt", attempt).Int("tokens_used", result.TokensUsed).Msg("completion accepted")
	return result, nil
}

func validAnswer(c *Completion) bool {
	if c == nil {
		return false
	}
	n := 0
	for _, r := range c.Text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n >= MinAnswerChars
}
