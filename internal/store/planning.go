package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Period is one generated training plan spanning consecutive weeks.
type Period struct {
	ID         int64
	UserID     int64
	StartDate  string
	EndDate    string
	TotalWeeks int
	Active     bool
}

// Week is one week of a plan.
type Week struct {
	ID         int64
	PeriodID   int64
	Number     int
	Start      string
	End        string
	Content    string
	TotalWeeks int // of the enclosing period
}

// WeekPlan is the generated content for one week.
type WeekPlan struct {
	Number  int
	Content string
}

// ActiveWeekOn returns the week of the user's active plan that contains
// date (YYYY-MM-DD).
func (s *Store) ActiveWeekOn(userID int64, date string) (*Week, error) {
	var w Week
	err := s.db.QueryRow(`
		SELECT pw.id, pw.period_id, pw.week_number, pw.week_start, pw.week_end, pw.content, pp.total_weeks
		FROM planning_weeks pw
		JOIN planning_periods pp ON pp.id = pw.period_id
		WHERE pp.user_id = ? AND pp.is_active = 1 AND pw.week_start <= ? AND pw.week_end >= ?
		ORDER BY pw.week_number
		LIMIT 1
	`, userID, date, date).Scan(&w.ID, &w.PeriodID, &w.Number, &w.Start, &w.End, &w.Content, &w.TotalWeeks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query week: %w", err)
	}
	return &w, nil
}

// ActivePeriod returns the user's active plan.
func (s *Store) ActivePeriod(userID int64) (*Period, error) {
	p := Period{UserID: userID, Active: true}
	err := s.db.QueryRow(`
		SELECT id, start_date, end_date, total_weeks FROM planning_periods
		WHERE user_id = ? AND is_active = 1
		ORDER BY id DESC LIMIT 1
	`, userID).Scan(&p.ID, &p.StartDate, &p.EndDate, &p.TotalWeeks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query period: %w", err)
	}
	return &p, nil
}

// ReplacePlanning deactivates any existing plan and stores a new one
// starting on start, one row per week in order.
func (s *Store) ReplacePlanning(userID int64, start time.Time, weeks []WeekPlan) (*Period, error) {
	if len(weeks) == 0 {
		return nil, errors.New("plan has no weeks")
	}

	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	p := &Period{
		UserID:     userID,
		StartDate:  start.Format(DateLayout),
		EndDate:    start.AddDate(0, 0, len(weeks)*7-1).Format(DateLayout),
		TotalWeeks: len(weeks),
		Active:     true,
	}
	now := s.timestamp()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE planning_periods SET is_active = 0 WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("deactivate periods: %w", err)
	}
	res, err := tx.Exec(`
		INSERT INTO planning_periods (user_id, start_date, end_date, total_weeks, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, userID, p.StartDate, p.EndDate, p.TotalWeeks, now)
	if err != nil {
		return nil, fmt.Errorf("insert period: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("period id: %w", err)
	}

	for i, w := range weeks {
		number := w.Number
		if number <= 0 {
			number = i + 1
		}
		weekStart := start.AddDate(0, 0, i*7)
		_, err := tx.Exec(`
			INSERT INTO planning_weeks (period_id, week_number, week_start, week_end, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.ID, number, weekStart.Format(DateLayout), weekStart.AddDate(0, 0, 6).Format(DateLayout), w.Content, now)
		if err != nil {
			return nil, fmt.Errorf("insert week %d: %w", number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

// ResetPlanning deletes every plan the user has.
func (s *Store) ResetPlanning(userID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM planning_weeks WHERE period_id IN (SELECT id FROM planning_periods WHERE user_id = ?)`, userID); err != nil {
		return fmt.Errorf("delete weeks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM planning_periods WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete periods: %w", err)
	}
	return tx.Commit()
}
