package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is the single end user of the coach.
type User struct {
	ID             int64
	Phone          string
	DeliveryDay    string // lowercase English weekday
	DeliveryHour   int
	DeliveryMinute int
	DeliveryPaused bool
	Timezone       string // IANA name
	PendingDelete  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Location resolves the user's timezone, falling back to UTC when the
// stored name is unknown.
func (u *User) Location() *time.Location {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UserDefaults seeds delivery settings for new users.
type UserDefaults struct {
	DeliveryDay    string
	DeliveryHour   int
	DeliveryMinute int
	Timezone       string
}

const userColumns = `id, phone, plan_delivery_day, plan_delivery_hour, plan_delivery_minute,
	plan_delivery_paused, timezone, pending_delete_confirm, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u                  User
		paused, pending    int
		createdAt, updated string
	)
	err := row.Scan(&u.ID, &u.Phone, &u.DeliveryDay, &u.DeliveryHour, &u.DeliveryMinute,
		&paused, &u.Timezone, &pending, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.DeliveryPaused = paused != 0
	u.PendingDelete = pending != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &u, nil
}

// GetOrCreateUser returns the user with the given phone, creating it
// with the supplied defaults on first contact.
func (s *Store) GetOrCreateUser(phone string, defaults UserDefaults) (*User, error) {
	u, err := s.UserByPhone(phone)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.timestamp()
	_, err = s.db.Exec(`
		INSERT INTO users (phone, plan_delivery_day, plan_delivery_hour, plan_delivery_minute, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO NOTHING
	`, phone, strings.ToLower(defaults.DeliveryDay), defaults.DeliveryHour, defaults.DeliveryMinute,
		defaults.Timezone, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.UserByPhone(phone)
}

// UserByPhone looks a user up by phone number.
func (s *Store) UserByPhone(phone string) (*User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE phone = ?`, phone))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, err
}

// GetUser looks a user up by id.
func (s *Store) GetUser(id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, err
}

// Users returns every known user ordered by id.
func (s *Store) Users() ([]*User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) updateUser(userID int64, set string, args ...any) error {
	args = append(args, s.timestamp(), userID)
	res, err := s.db.Exec(`UPDATE users SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeliveryDay changes the weekday the weekly plan is sent on.
func (s *Store) SetDeliveryDay(userID int64, day string) error {
	return s.updateUser(userID, `plan_delivery_day = ?`, strings.ToLower(day))
}

// SetDeliverySchedule changes the weekday and local time of the
// weekly plan.
func (s *Store) SetDeliverySchedule(userID int64, day string, hour, minute int) error {
	return s.updateUser(userID,
		`plan_delivery_day = ?, plan_delivery_hour = ?, plan_delivery_minute = ?`,
		strings.ToLower(day), hour, minute)
}

// SetDeliveryPaused pauses or resumes weekly plan delivery.
func (s *Store) SetDeliveryPaused(userID int64, paused bool) error {
	return s.updateUser(userID, `plan_delivery_paused = ?`, boolInt(paused))
}

// SetTimezone stores the user's IANA timezone name.
func (s *Store) SetTimezone(userID int64, tz string) error {
	return s.updateUser(userID, `timezone = ?`, tz)
}

// SetPendingDelete arms or disarms the erase-everything confirmation.
func (s *Store) SetPendingDelete(userID int64, pending bool) error {
	return s.updateUser(userID, `pending_delete_confirm = ?`, boolInt(pending))
}

// DeleteAllUserData erases the user's history, plans, preferences and
// Strava data in one transaction and disarms the pending confirmation.
// The user row itself survives so delivery settings persist.
func (s *Store) DeleteAllUserData(userID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM planning_weeks WHERE period_id IN (SELECT id FROM planning_periods WHERE user_id = ?)`,
		`DELETE FROM planning_periods WHERE user_id = ?`,
		`DELETE FROM messages WHERE user_id = ?`,
		`DELETE FROM user_preferences WHERE user_id = ?`,
		`DELETE FROM strava_activities WHERE user_id = ?`,
		`DELETE FROM strava_tokens WHERE user_id = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q, userID); err != nil {
			return fmt.Errorf("erase: %w", err)
		}
	}
	if _, err := tx.Exec(`UPDATE users SET pending_delete_confirm = 0, updated_at = ? WHERE id = ?`,
		s.timestamp(), userID); err != nil {
		return fmt.Errorf("disarm confirmation: %w", err)
	}
	return tx.Commit()
}
