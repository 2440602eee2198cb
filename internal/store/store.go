// Package store persists the coach's relational state: users, chat
// history, training plans, preferences and Strava data.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

// Store manages coach persistence. All public methods are safe for
// concurrent use (SQLite serializes writes).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the store at the given database path. The schema is
// created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates a store using an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection so sibling stores can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			phone TEXT UNIQUE NOT NULL,
			plan_delivery_day TEXT NOT NULL DEFAULT 'monday',
			plan_delivery_hour INTEGER NOT NULL DEFAULT 7,
			plan_delivery_minute INTEGER NOT NULL DEFAULT 0,
			plan_delivery_paused INTEGER NOT NULL DEFAULT 0,
			timezone TEXT NOT NULL DEFAULT 'America/Santiago',
			pending_delete_confirm INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS planning_periods (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			total_weeks INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS planning_weeks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			period_id INTEGER NOT NULL REFERENCES planning_periods(id),
			week_number INTEGER NOT NULL,
			week_start TEXT NOT NULL,
			week_end TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_preferences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			kind TEXT NOT NULL DEFAULT 'rule',
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS strava_tokens (
			user_id INTEGER PRIMARY KEY REFERENCES users(id),
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS strava_activities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			strava_id TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			start_date TEXT NOT NULL,
			distance_m REAL NOT NULL DEFAULT 0,
			moving_time_s INTEGER NOT NULL DEFAULT 0,
			elapsed_time_s INTEGER NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			user_notes TEXT NOT NULL DEFAULT '',
			feedback_requested INTEGER NOT NULL DEFAULT 0,
			feedback_received INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);
		CREATE INDEX IF NOT EXISTS idx_planning_weeks_period ON planning_weeks(period_id);
		CREATE INDEX IF NOT EXISTS idx_planning_periods_user ON planning_periods(user_id);
		CREATE INDEX IF NOT EXISTS idx_strava_activities_user ON strava_activities(user_id);
	`)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
