package store

import (
	"fmt"
	"time"
)

// Preference kinds.
const (
	KindRule       = "rule"
	KindPreference = "preference"
)

// Preference is a standing instruction the user asked the coach to keep.
type Preference struct {
	ID        int64
	Kind      string
	Content   string
	CreatedAt time.Time
}

// AddPreference stores a new preference or rule.
func (s *Store) AddPreference(userID int64, kind, content string) error {
	if kind == "" {
		kind = KindRule
	}
	_, err := s.db.Exec(`INSERT INTO user_preferences (user_id, kind, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, kind, content, s.timestamp())
	if err != nil {
		return fmt.Errorf("insert preference: %w", err)
	}
	return nil
}

// Preferences lists the user's preferences in insertion order.
func (s *Store) Preferences(userID int64) ([]Preference, error) {
	rows, err := s.db.Query(`SELECT id, kind, content, created_at FROM user_preferences WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var p Preference
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Kind, &p.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// ClearPreferences deletes every preference the user has.
func (s *Store) ClearPreferences(userID int64) error {
	if _, err := s.db.Exec(`DELETE FROM user_preferences WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete preferences: %w", err)
	}
	return nil
}
