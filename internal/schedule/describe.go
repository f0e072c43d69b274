package schedule

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	crondesc "github.com/lnquy/cron"
)

// tzReference is a fixed instant used when comparing zone offsets, so the
// hour shift does not flap across daylight-saving transitions. The shift is
// rounded to whole hours and wrapped into [0,23]; day rollover is ignored.
// This is a documented approximation, not a calendar-aware conversion.
var tzReference = time.Date(2021, time.January, 15, 12, 0, 0, 0, time.UTC)

var descriptor = mustDescriptor()

func mustDescriptor() *crondesc.ExpressionDescriptor {
	d, err := crondesc.NewDescriptor(crondesc.Use24HourTimeFormat(true))
	if err != nil {
		panic(err)
	}
	return d
}

// HourOffset returns the whole-hour offset to subtract from a cron hour
// field stored in cronLoc so it reads correctly in targetLoc.
func HourOffset(cronLoc, targetLoc *time.Location) int {
	_, cronOff := tzReference.In(cronLoc).Zone()
	_, targetOff := tzReference.In(targetLoc).Zone()
	return int(math.Round(float64(cronOff-targetOff) / 3600.0))
}

// ShiftHour rewrites the hour field of a 5-field expression by -offset
// hours, wrapping within a day. Expressions that do not have five fields, or
// whose hour token is not a plain number, are returned unchanged; partially
// templated schedules stay displayable that way.
func ShiftHour(raw string, offset int) string {
	fields, err := ParseFields(raw)
	if err != nil {
		return raw
	}
	hour, err := strconv.Atoi(fields.Hour)
	if err != nil {
		return raw
	}
	fields.Hour = strconv.Itoa(((hour-offset)%24 + 24) % 24)
	return fields.String()
}

// Describe renders a stored cron expression as a human-readable schedule in
// the target timezone. Named macros come back title-cased; anything else has
// its hour field shifted between the two zones and is rendered to English.
// Expressions the renderer cannot describe come back verbatim, so partially
// templated schedules stay displayable.
func Describe(raw string, cronLoc, targetLoc *time.Location) string {
	expr := strings.TrimSpace(raw)
	if macro, ok := strings.CutPrefix(expr, "@"); ok {
		return capitalize(macro)
	}
	shifted := ShiftHour(expr, HourOffset(cronLoc, targetLoc))
	desc, err := descriptor.ToDescription(shifted, crondesc.Locale_en)
	if err != nil {
		return shifted
	}
	return desc
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
