// Package embeddings turns text into vectors for knowledge retrieval.
//
// Every provider is best-effort: a missing credential, a network or quota
// failure, or an empty response all yield a nil vector, which callers
// treat as "no embedding available".
package embeddings

import (
	"context"
	"log/slog"
	"math"
	"strings"
)

// MaxInputChars is the longest input submitted to a provider. Longer
// input is truncated.
const MaxInputChars = 8000

// Provider generates an embedding for one piece of text. A nil result
// means no vector is available.
type Provider interface {
	Embed(ctx context.Context, text string) []float32
}

// Config selects and configures a provider.
type Config struct {
	Provider string // "openai", "ollama", or empty for none
	APIKey   string
	Model    string
	BaseURL  string
}

// New returns the provider named by cfg. An unknown or empty provider,
// or an OpenAI provider without a key, yields [Nop].
func New(cfg Config, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			logger.Warn("openai embeddings selected without api key, retrieval disabled")
			return Nop{}
		}
		return NewOpenAI(cfg, logger)
	case "ollama":
		return NewOllama(cfg, logger)
	default:
		return Nop{}
	}
}

// Nop never produces a vector.
type Nop struct{}

// Embed always returns nil.
func (Nop) Embed(context.Context, string) []float32 { return nil }

// prepareInput trims surrounding whitespace and caps the input length
// in characters. It reports false for blank input.
func prepareInput(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if r := []rune(text); len(r) > MaxInputChars {
		text = string(r[:MaxInputChars])
	}
	return text, true
}

// CosineSimilarity computes cosine similarity between two vectors. It is
// 0 when the lengths differ or either vector has zero norm.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
