package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/coach-ai-agent/internal/prompts"
	"github.com/nugget/coach-ai-agent/internal/store"
	"github.com/nugget/coach-ai-agent/internal/tools"
)

// StravaSyncTaskName names the single background sync task.
const StravaSyncTaskName = "strava-sync"

// feedbackWindow limits feedback requests to recent activities so a
// first sync does not ask about months of history.
const feedbackWindow = 72 * time.Hour

// Notifier pushes a message to a user outside of a conversation turn.
type Notifier interface {
	Notify(ctx context.Context, user *store.User, body string) error
}

// ActivitySyncer mirrors a user's new Strava activities.
type ActivitySyncer interface {
	Sync(ctx context.Context, userID int64) ([]store.Activity, error)
}

// Jobs executes the coach's task payloads.
type Jobs struct {
	store    *store.Store
	notifier Notifier
	strava   ActivitySyncer
	now      func() time.Time
	logger   *slog.Logger
}

// NewJobs creates the task executor. strava may be nil when Strava is
// not configured.
func NewJobs(st *store.Store, notifier Notifier, strava ActivitySyncer, logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		store:    st,
		notifier: notifier,
		strava:   strava,
		now:      time.Now,
		logger:   logger.With("component", "jobs"),
	}
}

// Execute is the scheduler's [ExecuteFunc].
func (j *Jobs) Execute(ctx context.Context, task *Task, exec *Execution) error {
	switch task.Payload.Kind {
	case PayloadPlanDelivery:
		return j.DeliverPlan(ctx, task.Payload.UserID)
	case PayloadStravaSync:
		return j.SyncStrava(ctx)
	default:
		return fmt.Errorf("unknown payload kind %q", task.Payload.Kind)
	}
}

// DeliverPlan sends the user this week's plan. Paused delivery or a
// week without a plan is not an error.
func (j *Jobs) DeliverPlan(ctx context.Context, userID int64) error {
	u, err := j.store.GetUser(userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	if u.DeliveryPaused {
		j.logger.Debug("plan delivery paused", "user_id", userID)
		return nil
	}

	now := j.now().In(u.Location())
	w, err := j.store.ActiveWeekOn(userID, now.Format(store.DateLayout))
	if errors.Is(err, store.ErrNotFound) {
		j.logger.Debug("no active plan week", "user_id", userID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := j.notifier.Notify(ctx, u, tools.FormatWeeklyPlan(w)); err != nil {
		return fmt.Errorf("send plan: %w", err)
	}
	j.logger.Info("weekly plan delivered", "user_id", userID, "week", w.Number)
	return nil
}

// SyncStrava mirrors new activities for every connected user and asks
// about recent ones. A failing user does not stop the others.
func (j *Jobs) SyncStrava(ctx context.Context) error {
	if j.strava == nil {
		return nil
	}
	ids, err := j.store.StravaUserIDs()
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := j.syncUser(ctx, id); err != nil {
			j.logger.Warn("strava sync failed", "user_id", id, "error", err)
			errs = append(errs, fmt.Errorf("user %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (j *Jobs) syncUser(ctx context.Context, userID int64) error {
	added, err := j.strava.Sync(ctx, userID)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		return nil
	}

	cutoff := j.now().Add(-feedbackWindow)
	var (
		recent []prompts.FeedbackActivity
		ids    []string
	)
	for _, a := range added {
		ids = append(ids, a.StravaID)
		start, err := time.Parse(time.RFC3339, a.StartDate)
		if err != nil || start.Before(cutoff) {
			continue
		}
		recent = append(recent, prompts.FeedbackActivity{
			Name:        a.Name,
			Type:        a.Type,
			DistanceM:   a.DistanceM,
			MovingTimeS: a.MovingTimeS,
		})
	}

	if len(recent) > 0 {
		u, err := j.store.GetUser(userID)
		if err != nil {
			return err
		}
		if err := j.notifier.Notify(ctx, u, prompts.ActivityFeedbackRequest(recent)); err != nil {
			return fmt.Errorf("send feedback request: %w", err)
		}
	}
	j.logger.Info("strava activities synced", "user_id", userID, "new", len(added), "asked", len(recent))
	return j.store.MarkFeedbackRequested(userID, ids...)
}

// Delivery keeps each user's weekly plan task in step with their
// delivery settings.
type Delivery struct {
	sched *Scheduler
}

// NewDelivery creates a delivery scheduler on top of sched.
func NewDelivery(sched *Scheduler) *Delivery {
	return &Delivery{sched: sched}
}

// PlanDeliveryTaskName is the task name for a user's weekly plan push.
func PlanDeliveryTaskName(userID int64) string {
	return fmt.Sprintf("plan-delivery-%d", userID)
}

// Reschedule points the user's weekly plan task at their current day,
// time and timezone.
func (d *Delivery) Reschedule(_ context.Context, u *store.User) error {
	return d.sched.EnsureTask(&Task{
		Name: PlanDeliveryTaskName(u.ID),
		Schedule: Schedule{
			Kind:     ScheduleWeekly,
			Day:      u.DeliveryDay,
			Hour:     u.DeliveryHour,
			Minute:   u.DeliveryMinute,
			Timezone: u.Timezone,
		},
		Payload:   Payload{Kind: PayloadPlanDelivery, UserID: u.ID},
		Enabled:   true,
		CreatedBy: "delivery",
	})
}

// EnsureStravaSync creates or updates the periodic Strava sync task.
// A non-positive interval disables it.
func EnsureStravaSync(sched *Scheduler, interval time.Duration) error {
	return sched.EnsureTask(&Task{
		Name:      StravaSyncTaskName,
		Schedule:  Schedule{Kind: ScheduleEvery, Every: &Duration{Duration: interval}},
		Payload:   Payload{Kind: PayloadStravaSync},
		Enabled:   interval > 0,
		CreatedBy: "config",
	})
}
