package embeddings

import (
	"context"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/nugget/coach-ai-agent/internal/httpkit"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = string(openai.SmallEmbedding3)

// OpenAI generates embeddings through the OpenAI embeddings endpoint
// or any API-compatible server.
type OpenAI struct {
	client *openai.Client
	model  openai.EmbeddingModel
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI embedding provider. cfg.BaseURL, when
// set, points the client at an API-compatible server.
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))

	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		model:  openai.EmbeddingModel(cfg.Model),
		logger: logger.With("provider", "openai"),
	}
}

// Embed returns the embedding for text, or nil on any failure.
func (o *OpenAI) Embed(ctx context.Context, text string) []float32 {
	input, ok := prepareInput(text)
	if !ok {
		return nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{input},
		Model: o.model,
	})
	if err != nil {
		o.logger.Debug("embedding request failed", "model", o.model, "error", err)
		return nil
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		o.logger.Debug("embedding response held no vector", "model", o.model)
		return nil
	}
	return resp.Data[0].Embedding
}
