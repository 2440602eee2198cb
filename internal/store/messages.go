package store

import (
	"fmt"
	"time"
)

// Message is one persisted chat turn.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// AddMessage appends a turn to the user's history.
func (s *Store) AddMessage(userID int64, role, content string) error {
	_, err := s.db.Exec(`INSERT INTO messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, role, content, s.timestamp())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// LastMessages returns up to limit of the most recent turns, oldest first.
func (s *Store) LastMessages(userID int64, limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE user_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
