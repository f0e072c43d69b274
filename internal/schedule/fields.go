package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wphospital/sprucepy/internal/core"
)

// Fields is a five-field cron expression split into its components.
type Fields struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

// String renders the fields as a crontab schedule expression.
func (f Fields) String() string {
	return strings.Join([]string{f.Minute, f.Hour, f.DayOfMonth, f.Month, f.DayOfWeek}, " ")
}

// ParseFields splits a raw 5-field expression. Macros and expressions with a
// different field count are rejected.
func ParseFields(raw string) (Fields, error) {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) != 5 {
		return Fields{}, fmt.Errorf("expected 5 cron fields, got %d in %q", len(parts), raw)
	}
	return Fields{
		Minute:     parts[0],
		Hour:       parts[1],
		DayOfMonth: parts[2],
		Month:      parts[3],
		DayOfWeek:  parts[4],
	}, nil
}

// Build converts a recurrence descriptor into cron fields.
//
// The field carrying the recurrence's own frequency gets a step expression
// with the configured interval; anchoring fields are fixed from the start
// time (or the documented defaults when no start is given); everything else
// stays a wildcard. Weekly schedules have no step component at all.
//
// Day-of-week numbering follows the cron convention of 0 = Sunday. The
// weekday-index-plus-one mapping is carried over from the scheduler this
// agent replaces and must stay exact: a Wednesday start yields field value 4.
func Build(rec core.Recurrence) (Fields, error) {
	if err := rec.Validate(); err != nil {
		return Fields{}, err
	}

	f := Fields{Minute: "*", Hour: "*", DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
	step := fmt.Sprintf("*/%d", rec.Interval)
	start := rec.Start

	switch rec.Frequency {
	case core.FrequencyMinutely:
		f.Minute = step
	case core.FrequencyHourly:
		f.Hour = step
		f.Minute = "0"
		if start != nil {
			f.Minute = strconv.Itoa(start.Minute())
		}
	case core.FrequencyDaily:
		f.DayOfMonth = step
		f.Minute, f.Hour = anchorTime(start)
	case core.FrequencyWeekly:
		f.Minute, f.Hour = anchorTime(start)
		f.DayOfWeek = "0"
		if start != nil {
			f.DayOfWeek = strconv.Itoa(int(start.Weekday()) + 1)
		}
	case core.FrequencyMonthly:
		f.Month = step
		f.Minute, f.Hour = anchorTime(start)
		f.DayOfMonth = "1"
		if start != nil {
			f.DayOfMonth = strconv.Itoa(start.Day())
		}
	}

	return f, nil
}

func anchorTime(start *time.Time) (minute, hour string) {
	if start == nil {
		return "0", "0"
	}
	return strconv.Itoa(start.Minute()), strconv.Itoa(start.Hour())
}
