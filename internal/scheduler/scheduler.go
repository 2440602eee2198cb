package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// executionTimeout bounds one timer-driven run.
	executionTimeout = 5 * time.Minute

	// CatchUpWindow is how late a plan delivery missed during downtime
	// may still be sent. Older slots are recorded as skipped.
	CatchUpWindow = 12 * time.Hour
)

// ExecuteFunc is called when a task fires.
type ExecuteFunc func(ctx context.Context, task *Task, execution *Execution) error

// Scheduler arms one timer per enabled task and records every run.
type Scheduler struct {
	logger  *slog.Logger
	store   *Store
	execute ExecuteFunc
	now     func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer // taskID -> timer
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a new scheduler.
func New(logger *slog.Logger, store *Store, execute ExecuteFunc) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:  logger.With("component", "scheduler"),
		store:   store,
		execute: execute,
		now:     time.Now,
		timers:  make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
	}
}

// Start loads enabled tasks, settles runs missed while the process was
// down, and arms the timers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.recoverInterrupted()

	tasks, err := s.store.ListTasks(true)
	if err != nil {
		return err
	}

	s.catchUp(ctx, tasks)

	for _, task := range tasks {
		s.scheduleTask(task)
	}

	s.logger.Debug("scheduler started", "tasks", len(tasks))
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}

	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// CreateTask adds a new task and schedules it.
func (s *Scheduler) CreateTask(task *Task) error {
	if err := s.store.CreateTask(task); err != nil {
		return err
	}
	if task.Enabled {
		s.scheduleTask(task)
	}

	s.logger.Info("task created", taskAttrs(task)...)
	return nil
}

// UpdateTask modifies a task and rearms its timer.
func (s *Scheduler) UpdateTask(task *Task) error {
	if err := s.store.UpdateTask(task); err != nil {
		return err
	}

	s.cancelTimer(task.ID)
	if task.Enabled {
		s.scheduleTask(task)
	}

	s.logger.Info("task updated", append(taskAttrs(task), "enabled", task.Enabled)...)
	return nil
}

// EnsureTask creates the task, or replaces the schedule and payload of
// the existing task with the same name, and (re)arms its timer.
func (s *Scheduler) EnsureTask(task *Task) error {
	existing, err := s.store.GetTaskByName(task.Name)
	if err != nil {
		return fmt.Errorf("lookup task %q: %w", task.Name, err)
	}
	if existing == nil {
		return s.CreateTask(task)
	}

	existing.Schedule = task.Schedule
	existing.Payload = task.Payload
	existing.Enabled = task.Enabled
	*task = *existing
	return s.UpdateTask(task)
}

// ListTasks returns all tasks.
func (s *Scheduler) ListTasks(enabledOnly bool) ([]*Task, error) {
	return s.store.ListTasks(enabledOnly)
}

// scheduleTask sets up a timer for the next execution. Start arms tasks
// created while the scheduler is stopped.
func (s *Scheduler) scheduleTask(task *Task) {
	now := s.now()
	next, ok := task.NextRun(now)
	if !ok {
		s.logger.Debug("task has no future runs", taskAttrs(task)...)
		return
	}
	delay := max(next.Sub(now), 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	if timer, exists := s.timers[task.ID]; exists {
		timer.Stop()
	}
	s.timers[task.ID] = time.AfterFunc(delay, func() {
		s.onTaskFire(task.ID)
	})

	s.logger.Debug("task scheduled", append(taskAttrs(task), "next", next, "delay", delay)...)
}

// onTaskFire is called when a task's timer fires.
func (s *Scheduler) onTaskFire(taskID string) {
	// Add under mu so Stop's Wait never races a late fire.
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	delete(s.timers, taskID)
	s.mu.Unlock()
	defer s.wg.Done()

	// The task may have been edited since the timer was armed.
	task, err := s.store.GetTask(taskID)
	if err != nil {
		s.logger.Error("failed to load task for execution", "id", taskID, "error", err)
		return
	}
	if !task.Enabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), executionTimeout)
	defer cancel()

	if _, err := s.executeTask(ctx, task, s.now()); err != nil {
		s.logger.Error("task execution failed", append(taskAttrs(task), "error", err)...)
	}

	if task.Schedule.Kind != ScheduleAt {
		s.scheduleTask(task)
	}
}

// executeTask runs a task and records the execution.
func (s *Scheduler) executeTask(ctx context.Context, task *Task, scheduledAt time.Time) (*Execution, error) {
	started := s.now()
	exec := &Execution{
		ID:          NewID(),
		TaskID:      task.ID,
		ScheduledAt: scheduledAt,
		StartedAt:   &started,
		Status:      StatusRunning,
	}
	if err := s.store.CreateExecution(exec); err != nil {
		return nil, err
	}

	var execErr error
	if s.execute != nil {
		execErr = s.execute(ctx, task, exec)
	}

	completed := s.now()
	exec.CompletedAt = &completed
	if execErr != nil {
		exec.Status = StatusFailed
		exec.Result = execErr.Error()
	} else {
		exec.Status = StatusCompleted
		exec.Result = "success"
	}

	if err := s.store.UpdateExecution(exec); err != nil {
		s.logger.Error("failed to update execution", "id", exec.ID, "error", err)
	}

	s.logger.Info("task executed", append(taskAttrs(task),
		"execution_id", exec.ID,
		"status", exec.Status,
		"duration", completed.Sub(started),
	)...)
	return exec, execErr
}

// cancelTimer stops and removes a task's timer.
func (s *Scheduler) cancelTimer(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, exists := s.timers[taskID]; exists {
		timer.Stop()
		delete(s.timers, taskID)
	}
}

// recoverInterrupted closes executions left running by a crash. They
// are not retried; catchUp decides whether their slot is still due.
func (s *Scheduler) recoverInterrupted() {
	stuck, err := s.store.ExecutionsWithStatus(StatusRunning)
	if err != nil {
		s.logger.Error("failed to load running executions", "error", err)
		return
	}
	now := s.now()
	for _, exec := range stuck {
		exec.Status = StatusFailed
		exec.Result = "interrupted by restart"
		exec.CompletedAt = &now
		if err := s.store.UpdateExecution(exec); err != nil {
			s.logger.Error("failed to close interrupted execution", "id", exec.ID, "error", err)
			continue
		}
		s.logger.Warn("execution interrupted by restart", "id", exec.ID, "task_id", exec.TaskID)
	}
}

// catchUp sends weekly plans whose slot passed while the process was
// down. A slot within CatchUpWindow runs now; an older one is recorded
// as skipped so the user never gets last week's plan days late. Strava
// sync needs no catch-up because its next interval covers the gap.
func (s *Scheduler) catchUp(ctx context.Context, tasks []*Task) {
	now := s.now()
	for _, task := range tasks {
		if task.Payload.Kind != PayloadPlanDelivery {
			continue
		}
		slot, ok := task.PreviousRun(now)
		if !ok || task.UpdatedAt.After(slot) {
			continue
		}

		last, err := s.store.ListExecutions(task.ID, 1)
		if err != nil {
			s.logger.Error("failed to load last execution", append(taskAttrs(task), "error", err)...)
			continue
		}
		if len(last) > 0 && !last[0].ScheduledAt.Before(slot) && last[0].Status != StatusFailed {
			continue
		}

		if late := now.Sub(slot); late > CatchUpWindow {
			s.recordSkipped(task, slot, fmt.Sprintf("missed by %s while offline", late.Round(time.Minute)))
			continue
		}

		s.logger.Info("catching up missed delivery", append(taskAttrs(task), "slot", slot)...)
		if _, err := s.executeTask(ctx, task, slot); err != nil {
			s.logger.Error("catch-up execution failed", append(taskAttrs(task), "error", err)...)
		}
	}
}

func (s *Scheduler) recordSkipped(task *Task, slot time.Time, reason string) {
	exec := &Execution{
		ID:          NewID(),
		TaskID:      task.ID,
		ScheduledAt: slot,
		Status:      StatusSkipped,
		Result:      reason,
	}
	if err := s.store.CreateExecution(exec); err != nil {
		s.logger.Error("failed to record skipped execution", append(taskAttrs(task), "error", err)...)
		return
	}
	s.logger.Info("skipped stale delivery", append(taskAttrs(task), "slot", slot, "reason", reason)...)
}

// taskAttrs are the log attributes identifying a task.
func taskAttrs(task *Task) []any {
	attrs := []any{"task_id", task.ID, "task_name", task.Name, "payload", task.Payload.Kind}
	if task.Payload.UserID != 0 {
		attrs = append(attrs, "user_id", task.Payload.UserID)
	}
	return attrs
}
