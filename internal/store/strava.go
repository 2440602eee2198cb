package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StravaToken holds one user's OAuth credentials.
type StravaToken struct {
	UserID       int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Activity is a Strava activity mirrored locally.
type Activity struct {
	ID                int64
	UserID            int64
	StravaID          string
	Name              string
	Type              string
	StartDate         string // as reported by Strava, RFC 3339
	DistanceM         float64
	MovingTimeS       int
	ElapsedTimeS      int
	Summary           string
	UserNotes         string
	FeedbackRequested bool
	FeedbackReceived  bool
}

// StravaToken returns the stored credentials for a user.
func (s *Store) StravaToken(userID int64) (*StravaToken, error) {
	t := StravaToken{UserID: userID}
	var expiresAt string
	err := s.db.QueryRow(`SELECT access_token, refresh_token, expires_at FROM strava_tokens WHERE user_id = ?`, userID).
		Scan(&t.AccessToken, &t.RefreshToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	return &t, nil
}

// SaveStravaToken inserts or replaces a user's credentials.
func (s *Store) SaveStravaToken(t StravaToken) error {
	_, err := s.db.Exec(`
		INSERT INTO strava_tokens (user_id, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, t.UserID, t.AccessToken, t.RefreshToken, t.ExpiresAt.UTC().Format(time.RFC3339), s.timestamp())
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// DeleteStravaToken forgets a user's credentials.
func (s *Store) DeleteStravaToken(userID int64) error {
	if _, err := s.db.Exec(`DELETE FROM strava_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// StravaUserIDs lists users with stored credentials.
func (s *Store) StravaUserIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT user_id FROM strava_tokens ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertActivity stores a if its Strava id is new. It reports whether a
// row was inserted.
func (s *Store) InsertActivity(a Activity) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO strava_activities
			(user_id, strava_id, name, activity_type, start_date, distance_m, moving_time_s, elapsed_time_s, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.UserID, a.StravaID, a.Name, a.Type, a.StartDate, a.DistanceM, a.MovingTimeS, a.ElapsedTimeS, a.Summary, s.timestamp())
	if err != nil {
		return false, fmt.Errorf("insert activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateActivityNotes records the user's comments on an activity. ref
// is matched against the Strava id first, then the local numeric id.
// It returns ErrNotFound when neither matches.
func (s *Store) UpdateActivityNotes(userID int64, ref, notes string) error {
	ref = strings.TrimSpace(ref)
	var id int64
	err := s.db.QueryRow(`SELECT id FROM strava_activities WHERE user_id = ? AND strava_id = ?`, userID, ref).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		local, convErr := strconv.ParseInt(ref, 10, 64)
		if convErr != nil {
			return ErrNotFound
		}
		err = s.db.QueryRow(`SELECT id FROM strava_activities WHERE user_id = ? AND id = ?`, userID, local).Scan(&id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find activity: %w", err)
	}

	if _, err := s.db.Exec(`UPDATE strava_activities SET user_notes = ?, feedback_received = 1 WHERE id = ?`, notes, id); err != nil {
		return fmt.Errorf("update notes: %w", err)
	}
	return nil
}

const activityColumns = `id, user_id, strava_id, name, activity_type, start_date, distance_m,
	moving_time_s, elapsed_time_s, summary, user_notes, feedback_requested, feedback_received`

func (s *Store) queryActivities(query string, args ...any) ([]Activity, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var acts []Activity
	for rows.Next() {
		var a Activity
		var requested, received int
		if err := rows.Scan(&a.ID, &a.UserID, &a.StravaID, &a.Name, &a.Type, &a.StartDate, &a.DistanceM,
			&a.MovingTimeS, &a.ElapsedTimeS, &a.Summary, &a.UserNotes, &requested, &received); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.FeedbackRequested = requested != 0
		a.FeedbackReceived = received != 0
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// ActivitiesBetween lists activities whose start date falls within
// [start, end] (YYYY-MM-DD, inclusive), oldest first.
func (s *Store) ActivitiesBetween(userID int64, start, end string) ([]Activity, error) {
	return s.queryActivities(`SELECT `+activityColumns+` FROM strava_activities
		WHERE user_id = ? AND substr(start_date, 1, 10) BETWEEN ? AND ?
		ORDER BY start_date`, userID, start, end)
}

// PendingFeedback lists activities nobody has asked about yet.
func (s *Store) PendingFeedback(userID int64) ([]Activity, error) {
	return s.queryActivities(`SELECT `+activityColumns+` FROM strava_activities
		WHERE user_id = ? AND feedback_requested = 0 AND feedback_received = 0
		ORDER BY start_date`, userID)
}

// MarkFeedbackRequested flags activities as already asked about.
func (s *Store) MarkFeedbackRequested(userID int64, stravaIDs ...string) error {
	for _, id := range stravaIDs {
		if _, err := s.db.Exec(`UPDATE strava_activities SET feedback_requested = 1 WHERE user_id = ? AND strava_id = ?`,
			userID, id); err != nil {
			return fmt.Errorf("mark feedback requested: %w", err)
		}
	}
	return nil
}
