// Package knowledge holds the coach's reference material and finds the
// passages relevant to a conversation.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Chunk is one stored passage with its raw embedding.
type Chunk struct {
	ID            int64
	Source        string
	Text          string
	EmbeddingJSON string
}

// SourceCount summarizes how many chunks a source contributed.
type SourceCount struct {
	Source string
	Chunks int
}

// Store persists knowledge chunks in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a knowledge store on an existing connection, usually
// the one shared with the main coach store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_source ON knowledge_chunks(source);
	`)
	return err
}

// Add stores a passage with its embedding.
func (s *Store) Add(ctx context.Context, source, text string, embedding []float32) error {
	raw, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_chunks (source, text, embedding_json, created_at)
		VALUES (?, ?, ?, ?)
	`, source, text, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// All loads every chunk. Retrieval is a linear scan over this set.
func (s *Store) All(ctx context.Context) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, text, embedding_json FROM knowledge_chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Source, &c.Text, &c.EmbeddingJSON); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Clear deletes the chunks of one source, or every chunk when source is
// empty. It returns the number of chunks removed.
func (s *Store) Clear(ctx context.Context, source string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if source == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM knowledge_chunks`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE source = ?`, source)
	}
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return res.RowsAffected()
}

// Sources lists every source with its chunk count.
func (s *Store) Sources(ctx context.Context) ([]SourceCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM knowledge_chunks GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Chunks); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
