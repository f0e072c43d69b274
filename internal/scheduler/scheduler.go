// Package scheduler keeps the host crontab in line with each task's declared
// recurrence. One labeled crontab entry per task; replacing a schedule always
// rewrites the entry rather than merging with it.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/wphospital/sprucepy/internal/core"
	"github.com/wphospital/sprucepy/internal/crontab"
	"github.com/wphospital/sprucepy/internal/schedule"
)

// NotScheduled is reported when a task has no crontab entry on this host.
const NotScheduled = "Not scheduled"

// Task is the scheduling view of a task: where it lives and how often it runs.
// A nil Recurrence means the task should not be on the crontab at all.
type Task struct {
	ID         string
	Script     string
	Args       []string
	WorkDir    string
	Recurrence *core.Recurrence
}

// Scheduler translates recurrences into labeled crontab entries.
type Scheduler struct {
	store  *crontab.Store
	binary string
	logger *slog.Logger

	cronLoc   *time.Location
	targetLoc *time.Location
}

// New builds a Scheduler. binary is the agent executable invoked by each
// crontab entry; cronLoc is the zone the cron daemon runs in and targetLoc the
// zone schedules are displayed in.
func New(store *crontab.Store, binary string, cronLoc, targetLoc *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		binary:    binary,
		logger:    logger,
		cronLoc:   cronLoc,
		targetLoc: targetLoc,
	}
}

// Schedule writes the task's crontab entry under its label. A task without a
// recurrence gets its entry removed instead, so saving a task with scheduling
// switched off also cleans up a previous schedule.
func (s *Scheduler) Schedule(task Task) error {
	label := core.TaskLabel(task.ID)

	if task.Recurrence == nil {
		if err := s.store.Remove(label); err != nil {
			return fmt.Errorf("remove schedule for task %s: %w", task.ID, err)
		}
		s.logger.Info("task unscheduled", "task", task.ID)
		return nil
	}

	if err := task.Recurrence.Validate(); err != nil {
		return fmt.Errorf("schedule task %s: %w", task.ID, err)
	}
	fields, err := schedule.Build(*task.Recurrence)
	if err != nil {
		return fmt.Errorf("schedule task %s: %w", task.ID, err)
	}

	if err := s.store.Upsert(label, s.command(task), fields.String()); err != nil {
		return fmt.Errorf("write schedule for task %s: %w", task.ID, err)
	}
	s.logger.Info("task scheduled", "task", task.ID, "cron", fields.String())
	return nil
}

// Unschedule removes the task's crontab entry. Absent entries are a no-op.
func (s *Scheduler) Unschedule(taskID string) error {
	if err := s.store.Remove(core.TaskLabel(taskID)); err != nil {
		return fmt.Errorf("unschedule task %s: %w", taskID, err)
	}
	s.logger.Info("task unscheduled", "task", taskID)
	return nil
}

// CurrentSchedule renders the task's schedule in the display timezone, or the
// NotScheduled sentinel when the task has no entry.
func (s *Scheduler) CurrentSchedule(taskID string) (string, error) {
	job, err := s.store.Find(core.TaskLabel(taskID))
	if err != nil {
		return "", fmt.Errorf("read schedule for task %s: %w", taskID, err)
	}
	if job == nil {
		return NotScheduled, nil
	}
	return schedule.Describe(job.Schedule, s.cronLoc, s.targetLoc), nil
}

// NextRun computes the next firing instant strictly after now.
func (s *Scheduler) NextRun(taskID string, now time.Time) (time.Time, error) {
	job, err := s.store.Find(core.TaskLabel(taskID))
	if err != nil {
		return time.Time{}, fmt.Errorf("read schedule for task %s: %w", taskID, err)
	}
	if job == nil {
		return time.Time{}, fmt.Errorf("task %s is not scheduled", taskID)
	}
	next, err := schedule.NextRun(job.Schedule, now, s.cronLoc, s.targetLoc)
	if err != nil {
		return time.Time{}, fmt.Errorf("next run for task %s: %w", taskID, err)
	}
	return next, nil
}

// command synthesizes the shell line cron executes: change into the task's
// directory, then invoke the agent's run command. Script arguments use the
// --arg=value form so values that start with a dash survive flag parsing.
func (s *Scheduler) command(task Task) string {
	argv := []string{s.binary, "run", "--task", task.ID, "--script", task.Script}
	for _, arg := range task.Args {
		argv = append(argv, "--arg="+arg)
	}
	run := shellquote.Join(argv...)
	if task.WorkDir == "" {
		return run
	}
	return fmt.Sprintf("cd %s && %s", shellquote.Join(task.WorkDir), run)
}
