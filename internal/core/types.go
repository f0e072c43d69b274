package core

import (
	"fmt"
	"time"
)

// RunStatus describes the lifecycle state of a single task execution as
// recorded by the Spruce coordination API.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in progress"
	RunStatusSuccess    RunStatus = "success"
	RunStatusFail       RunStatus = "fail"
	RunStatusKilled     RunStatus = "killed"
	RunStatusTimeout    RunStatus = "timeout"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFail, RunStatusKilled, RunStatusTimeout:
		return true
	}
	return false
}

// Run captures one execution attempt of a task. The record itself is owned
// by the coordination API; this is the agent-side view.
type Run struct {
	ID         string
	TaskID     string
	CreatedBy  string
	StartTime  time.Time
	EndTime    *time.Time
	Status     RunStatus
	PID        int
	ReturnCode *int
	Output     string
	Error      string
	Heartbeat  *time.Time
}

// Frequency enumerates the supported recurrence frequencies.
type Frequency string

const (
	FrequencyMinutely Frequency = "minutely"
	FrequencyHourly   Frequency = "hourly"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
)

// ParseFrequency validates a textual frequency value.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case FrequencyMinutely, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return Frequency(s), nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// Recurrence describes how often a task should run. Start carries the
// time-of-day (and day, for weekly/monthly) the schedule is anchored to.
type Recurrence struct {
	Frequency Frequency
	Interval  int
	Start     *time.Time
}

// Validate checks the recurrence for structural problems.
func (r Recurrence) Validate() error {
	if _, err := ParseFrequency(string(r.Frequency)); err != nil {
		return err
	}
	if r.Interval < 1 {
		return fmt.Errorf("interval must be >= 1, got %d", r.Interval)
	}
	return nil
}

// RecipientMode is the delivery channel for a notification recipient.
type RecipientMode string

const (
	RecipientModeEmail RecipientMode = "email"
	RecipientModeSMS   RecipientMode = "sms"
)

// Recipient is one person subscribed to notifications for a task category.
type Recipient struct {
	Person      int    `json:"person"`
	Mode        string `json:"mode"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	TaskName    string `json:"task_name"`
	TaskTesting bool   `json:"task_testing"`
	SendTesting bool   `json:"send_testing"`
	SendLine    string `json:"send_line"`
}

// TaskSecret maps an environment variable alias to a key in the secret store.
type TaskSecret struct {
	Alias     string `json:"alias"`
	SecretKey string `json:"secret_key"`
}
