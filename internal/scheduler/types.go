// Package scheduler runs the coach's timed jobs: the weekly plan push
// and the periodic Strava sync.
package scheduler

import (
	"time"

	"github.com/nugget/coach-ai-agent/internal/config"
)

// Task is the definition of a scheduled action.
type Task struct {
	ID        string    `json:"id"`       // UUIDv7
	Name      string    `json:"name"`     // Unique label
	Schedule  Schedule  `json:"schedule"` // When to run
	Payload   Payload   `json:"payload"`  // What to do
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedule defines when a task should run.
type Schedule struct {
	Kind     ScheduleKind `json:"kind"`
	At       *time.Time   `json:"at,omitempty"`    // For "at" kind
	Every    *Duration    `json:"every,omitempty"` // For "every" kind
	Day      string       `json:"day,omitempty"`   // For "weekly" kind, English weekday
	Hour     int          `json:"hour,omitempty"`
	Minute   int          `json:"minute,omitempty"`
	Timezone string       `json:"timezone,omitempty"` // IANA timezone
}

// ScheduleKind identifies the schedule type.
type ScheduleKind string

const (
	ScheduleAt     ScheduleKind = "at"     // One-shot at specific time
	ScheduleEvery  ScheduleKind = "every"  // Recurring interval
	ScheduleWeekly ScheduleKind = "weekly" // Same weekday and wall-clock time every week
)

// Duration wraps time.Duration for JSON serialization.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Payload defines what action to take when a task fires.
type Payload struct {
	Kind   PayloadKind `json:"kind"`
	UserID int64       `json:"user_id,omitempty"`
}

// PayloadKind identifies the payload type.
type PayloadKind string

const (
	PayloadPlanDelivery PayloadKind = "plan_delivery" // Push this week's plan to a user
	PayloadStravaSync   PayloadKind = "strava_sync"   // Mirror activities and ask for feedback
)

// Execution represents a single run of a task.
type Execution struct {
	ID          string          `json:"id"`           // UUIDv7
	TaskID      string          `json:"task_id"`      // FK to Task
	ScheduledAt time.Time       `json:"scheduled_at"` // When it was supposed to run
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"` // Output or error
}

// ExecutionStatus indicates the state of an execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusSkipped   ExecutionStatus = "skipped"
)

// NextRun calculates the next execution time for a task.
func (t *Task) NextRun(after time.Time) (time.Time, bool) {
	switch t.Schedule.Kind {
	case ScheduleAt:
		if t.Schedule.At != nil && t.Schedule.At.After(after) {
			return *t.Schedule.At, true
		}
		return time.Time{}, false // One-shot already passed

	case ScheduleEvery:
		if t.Schedule.Every == nil || t.Schedule.Every.Duration <= 0 {
			return time.Time{}, false
		}
		interval := t.Schedule.Every.Duration
		base := t.CreatedAt
		if base.IsZero() {
			base = after
		}
		elapsed := after.Sub(base)
		if elapsed < 0 {
			return base, true
		}
		intervals := int64(elapsed/interval) + 1
		return base.Add(time.Duration(intervals) * interval), true

	case ScheduleWeekly:
		return t.Schedule.nextWeekly(after)

	default:
		return time.Time{}, false
	}
}

// PreviousRun returns the latest scheduled time at or before the given
// instant. Only weekly schedules have one.
func (t *Task) PreviousRun(at time.Time) (time.Time, bool) {
	if t.Schedule.Kind != ScheduleWeekly {
		return time.Time{}, false
	}
	prev, ok := t.Schedule.nextWeekly(at.Add(-7 * 24 * time.Hour))
	if !ok || prev.After(at) {
		return time.Time{}, false
	}
	return prev, true
}

// nextWeekly finds the first matching weekday and wall-clock time
// strictly after the given instant, in the schedule's timezone.
func (s Schedule) nextWeekly(after time.Time) (time.Time, bool) {
	day, ok := config.ParseWeekday(s.Day)
	if !ok || s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
		return time.Time{}, false
	}
	loc := time.UTC
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, false
		}
		loc = l
	}

	local := after.In(loc)
	offset := (int(day) - int(local.Weekday()) + 7) % 7
	next := time.Date(local.Year(), local.Month(), local.Day()+offset, s.Hour, s.Minute, 0, 0, loc)
	if !next.After(after) {
		next = time.Date(local.Year(), local.Month(), local.Day()+offset+7, s.Hour, s.Minute, 0, 0, loc)
	}
	return next, true
}
