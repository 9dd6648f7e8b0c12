// Package ics serializes the event collection to an iCalendar
// document so other calendar clients can import it.
package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"chimecal/internal/model"
	"chimecal/internal/timeutil"
)

// defaultDuration is the DTEND offset for exported events. Events in
// this system are a single instant (date + "HH:MM"); iCalendar
// consumers expect a span, so exports carry a one-hour block.
const defaultDuration = time.Hour

// Export renders the given events as an iCalendar document.
//
//   - UID comes from the event id
//   - DTSTART is the combined date+time instant, DTEND one hour later
//   - CATEGORIES carries the tags
//   - CREATED carries the creation timestamp
//
// Reminder flags and color are display/runtime state and are not
// exported.
func Export(events []model.Event) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//chimecal//calendar//EN")

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)

		start := timeutil.CombineDateTime(ev.Date, ev.Time)
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(defaultDuration))

		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if len(ev.Tags) > 0 {
			ve.SetProperty(ical.ComponentPropertyCategories, strings.Join(ev.Tags, ","))
		}
		if !ev.CreatedAt.IsZero() {
			ve.SetCreatedTime(ev.CreatedAt)
		}
	}

	return cal.Serialize()
}
