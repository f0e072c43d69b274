package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// fieldParser accepts exactly the standard five crontab fields.
var fieldParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// macroParser additionally understands @-prefixed descriptors; it stands in
// for the cron table's own schedule object when a job uses a macro.
var macroParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether the raw expression is parseable as either a
// five-field schedule or a named macro.
func Validate(raw string) error {
	if _, err := macroParser.Parse(strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", raw, err)
	}
	return nil
}

// NextRun computes the first occurrence of the expression strictly after
// from. Five-field expressions are evaluated on the clock of targetLoc and
// the resulting instant is returned in cronLoc; macros are handed to the
// descriptor parser and evaluated in cronLoc directly.
func NextRun(raw string, from time.Time, cronLoc, targetLoc *time.Location) (time.Time, error) {
	expr := strings.TrimSpace(raw)

	if strings.HasPrefix(expr, "@") {
		sched, err := macroParser.Parse(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron macro %q: %w", raw, err)
		}
		return sched.Next(from.In(cronLoc)), nil
	}

	sched, err := fieldParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", raw, err)
	}
	next := sched.Next(from.In(targetLoc))
	return next.In(cronLoc), nil
}
