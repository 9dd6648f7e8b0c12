// Package timeutil holds the pure calendar math used by the views and
// the reminder evaluator: month/week grids, event instants, and the
// reminder trigger window.
package timeutil

import (
	"fmt"
	"time"

	"chimecal/internal/model"
)

// TriggerWindow is the span starting at a reminder's trigger instant
// during which it is considered due. The evaluator runs once per this
// same duration, so the window and the tick interval are exactly tight.
const TriggerWindow = 60 * time.Second

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns the most recent weekStart day at or before t,
// at day granularity.
func StartOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	d := StartOfDay(t)
	diff := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -diff)
}

// MonthGrid returns every calendar cell for a month view of t's month:
// from the start of the week containing the 1st through the end of the
// week containing the last day. The result may include leading and
// trailing days from adjacent months and its length is always a
// multiple of 7.
func MonthGrid(t time.Time, weekStart time.Weekday) []time.Time {
	monthStart := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	monthEnd := monthStart.AddDate(0, 1, -1)

	gridStart := StartOfWeek(monthStart, weekStart)
	gridEnd := StartOfWeek(monthEnd, weekStart).AddDate(0, 0, 6)

	days := make([]time.Time, 0, 42)
	for d := gridStart; !d.After(gridEnd); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// WeekDays returns the 7 days of the week containing t, starting from
// weekStart.
func WeekDays(t time.Time, weekStart time.Weekday) []time.Time {
	start := StartOfWeek(t, weekStart)
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = start.AddDate(0, 0, i)
	}
	return days
}

// TimeSlots returns the 24 hourly slot labels "00:00" through "23:00".
func TimeSlots() []string {
	slots := make([]string, 24)
	for i := range slots {
		slots[i] = fmt.Sprintf("%02d:00", i)
	}
	return slots
}

// CombineDateTime combines a calendar date and an "HH:MM" wall-clock
// string into a single instant in the date's location. An empty or
// unparsable clock behaves as "00:00".
func CombineDateTime(date time.Time, clock string) time.Time {
	h, m := parseClock(clock)
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, date.Location())
}

// ReminderTriggerTime computes when a reminder of the given kind should
// fire for an event at date+clock. An unknown kind yields the event
// instant itself, not an error.
func ReminderTriggerTime(date time.Time, clock string, kind model.ReminderKind) time.Time {
	at := CombineDateTime(date, clock)
	switch kind {
	case model.Remind10Min:
		return at.Add(-10 * time.Minute)
	case model.Remind1Hr:
		return at.Add(-1 * time.Hour)
	case model.Remind1Day:
		return at.AddDate(0, 0, -1)
	default:
		return at
	}
}

// InTriggerWindow reports whether trigger falls in the forward-looking
// window [now, now+TriggerWindow). The boundary semantics matter:
// trigger == now is in the window, trigger == now+TriggerWindow is not.
func InTriggerWindow(trigger, now time.Time) bool {
	diff := trigger.Sub(now)
	return diff >= 0 && diff < TriggerWindow
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// SameMonth reports whether a and b fall in the same calendar month.
func SameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// IsToday reports whether t is the current local calendar day.
func IsToday(t time.Time) bool {
	return SameDay(t, time.Now())
}

func parseClock(clock string) (hour, minute int) {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
		return 0, 0
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0
	}
	return h, m
}
