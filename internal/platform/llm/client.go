// Package llm adapts the hosted model provider to the narrow completion and
// embedding contracts used by the answer, retrieval and embedding packages.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/smarthealth/clinqa/internal/domain/answer"
)

// ErrDisabled is returned by Disabled for every call.
var ErrDisabled = errors.New("llm: no provider configured")

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
	// EmbeddingBatchSize bounds texts per embedding request; zero keeps the
	// library default.
	EmbeddingBatchSize int
}

// Client serves chat completions and embeddings from one OpenAI-compatible
// endpoint.
type Client struct {
	llm      *openai.LLM
	embedder *embeddings.EmbedderImpl
	cfg      Config
}

func New(cfg Config) (*Client, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	var embOpts []embeddings.Option
	if cfg.EmbeddingBatchSize > 0 {
		embOpts = append(embOpts, embeddings.WithBatchSize(cfg.EmbeddingBatchSize))
	}
	embedder, err := embeddings.NewEmbedder(model, embOpts...)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Client{llm: model, embedder: embedder, cfg: cfg}, nil
}

// Complete sends a system and a user message and returns the first choice.
// The model reported is the configured one; the provider's usage counters
// fill TokensUsed when present.
func (c *Client) Complete(ctx context.Context, system, user string) (*answer.Completion, error) {
	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	},
		llms.WithTemperature(c.cfg.Temperature),
		llms.WithMaxTokens(c.cfg.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("generate content: no choices returned")
	}
	choice := resp.Choices[0]
	return &answer.Completion{
		Text:       choice.Content,
		Model:      c.cfg.Model,
		TokensUsed: intInfo(choice.GenerationInfo, "TotalTokens"),
	}, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embedder.EmbedQuery(ctx, text)
}

func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedder.EmbedDocuments(ctx, texts)
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Disabled stands in for a provider in development when no API key is set.
// Completions fail, so answers come from the record summary, and searches
// return nothing.
type Disabled struct{}

func (Disabled) Complete(context.Context, string, string) (*answer.Completion, error) {
	return nil, ErrDisabled
}

func (Disabled) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrDisabled
}

func (Disabled) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrDisabled
}
