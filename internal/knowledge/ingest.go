package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/nugget/coach-ai-agent/internal/embeddings"
)

const (
	// ChunkSize is the target passage length in characters.
	ChunkSize = 800

	// ChunkOverlap is how many characters consecutive passages share.
	ChunkOverlap = 100
)

// Document is a piece of reference material to ingest.
type Document struct {
	Source string
	Text   string
}

// IngestResult counts the outcome of an ingestion run.
type IngestResult struct {
	Inserted int
	Skipped  int // chunks with no embedding
}

// Ingester splits documents into passages, embeds them and stores them.
type Ingester struct {
	store    *Store
	embedder embeddings.Provider
	logger   *slog.Logger
}

// NewIngester creates an ingester writing to store.
func NewIngester(store *Store, embedder embeddings.Provider, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		store:    store,
		embedder: embedder,
		logger:   logger.With("component", "ingest"),
	}
}

// Ingest stores every chunk of every document that embeds successfully.
// Chunks without an embedding are counted and skipped. Only storage
// failures and context cancellation abort the run.
func (in *Ingester) Ingest(ctx context.Context, docs []Document) (IngestResult, error) {
	var res IngestResult
	for _, doc := range docs {
		for _, text := range ChunkText(doc.Text) {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			vec := in.embedder.Embed(ctx, text)
			if vec == nil {
				res.Skipped++
				continue
			}
			if err := in.store.Add(ctx, doc.Source, text, vec); err != nil {
				return res, fmt.Errorf("store chunk from %s: %w", doc.Source, err)
			}
			res.Inserted++
		}
		in.logger.Info("document ingested", "source", doc.Source, "inserted", res.Inserted, "skipped", res.Skipped)
	}
	return res, nil
}

// ChunkText splits text into passages of about [ChunkSize] characters.
// A cut that would land mid-word is pushed to just past the next space,
// and each passage after the first starts [ChunkOverlap] characters
// before the previous one ended. Blank passages are dropped.
func ChunkText(text string) []string {
	r := []rune(text)
	n := len(r)

	var chunks []string
	start := 0
	for start < n {
		end := min(start+ChunkSize, n)
		if end < n {
			if sp := indexSpace(r, end); sp >= 0 {
				end = sp + 1
			}
		}
		if slice := strings.TrimSpace(string(r[start:end])); slice != "" {
			chunks = append(chunks, slice)
		}
		if end >= n {
			break
		}
		next := end - ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func indexSpace(r []rune, from int) int {
	for i := from; i < len(r); i++ {
		if r[i] == ' ' {
			return i
		}
	}
	return -1
}

// LoadFile reads a file into a Document, flattening markdown and HTML
// to plain text. The source defaults to the file's base name.
func LoadFile(path, source string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	if source == "" {
		source = filepath.Base(path)
	}

	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		text, err = ExtractMarkdown(raw)
		if err != nil {
			return Document{}, fmt.Errorf("convert markdown %s: %w", path, err)
		}
	case ".html", ".htm":
		text = ExtractHTML(string(raw))
	default:
		text = string(raw)
	}

	return Document{Source: source, Text: normalizeSpace(text)}, nil
}

// normalizeSpace folds line breaks and runs of whitespace into single
// spaces so chunk boundaries can always find a space.
func normalizeSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
