package knowledge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/nugget/coach-ai-agent/internal/embeddings"
)

const (
	// DefaultLimit is the number of passages considered per query.
	DefaultLimit = 5

	// MinScore is the relevance floor. Passages scoring at or below it
	// are never returned.
	MinScore = 0.1

	contextPreamble = "Contexto de la base de conocimiento (usa solo si es relevante para responder):\n\n"
	chunkSeparator  = "\n\n---\n\n"
)

// RetrievedChunk is a passage with its similarity to the query.
type RetrievedChunk struct {
	Source string
	Text   string
	Score  float32
}

// Retriever finds the stored passages most similar to a query. Every
// failure degrades to an empty result.
type Retriever struct {
	store    *Store
	embedder embeddings.Provider
	logger   *slog.Logger
}

// NewRetriever creates a retriever over store using embedder for queries.
func NewRetriever(store *Store, embedder embeddings.Provider, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		logger:   logger.With("component", "knowledge"),
	}
}

// Search returns up to limit passages above [MinScore], best first.
func (r *Retriever) Search(ctx context.Context, query string, limit int) []RetrievedChunk {
	if limit <= 0 {
		limit = DefaultLimit
	}

	vec := r.embedder.Embed(ctx, query)
	if vec == nil {
		return nil
	}

	rows, err := r.store.All(ctx)
	if err != nil {
		r.logger.Debug("knowledge scan failed", "error", err)
		return nil
	}
	if len(rows) == 0 {
		return nil
	}

	scored := make([]RetrievedChunk, len(rows))
	for i, row := range rows {
		scored[i] = RetrievedChunk{Source: row.Source, Text: row.Text}
		var emb []float32
		if err := json.Unmarshal([]byte(row.EmbeddingJSON), &emb); err != nil {
			continue
		}
		scored[i].Score = embeddings.CosineSimilarity(vec, emb)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	// The floor applies after truncation, so fewer than limit may remain.
	top := scored[:0]
	for _, c := range scored {
		if c.Score > MinScore {
			top = append(top, c)
		}
	}

	r.logger.Debug("knowledge search", "candidates", len(rows), "returned", len(top))
	return top
}

// Retrieve formats the best passages for query as model context. It
// returns "" when nothing relevant is found or anything fails.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) string {
	return Format(r.Search(ctx, query, limit))
}

// Format renders passages as an advisory context block.
func Format(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = "[" + c.Source + "]\n" + c.Text
	}
	return contextPreamble + strings.Join(parts, chunkSeparator)
}
