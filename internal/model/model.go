package model

import "time"

// ReminderKind identifies a fixed lead-time offset before an event.
type ReminderKind string

const (
	Remind10Min ReminderKind = "10min"
	Remind1Hr   ReminderKind = "1hr"
	Remind1Day  ReminderKind = "1day"
)

// Kinds lists the known reminder kinds in lead-time order
// (shortest offset first).
var Kinds = []ReminderKind{Remind10Min, Remind1Hr, Remind1Day}

// ReminderSetting is the per-kind reminder state on an event.
// Triggered persists across restarts and is monotonic: once a kind
// has fired nothing in this system clears it again.
type ReminderSetting struct {
	Enabled   bool `json:"enabled"`
	Triggered bool `json:"triggered"`
}

// Reminders maps reminder kind to its setting.
type Reminders map[ReminderKind]ReminderSetting

// Clone returns an independent copy so snapshots never alias
// store-owned state.
func (r Reminders) Clone() Reminders {
	if r == nil {
		return nil
	}
	out := make(Reminders, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Event is a single calendar entry. ID and CreatedAt are assigned at
// creation and never change afterwards. Date carries the calendar day
// and Time the wall-clock "HH:MM"; together they form the event instant.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Date        time.Time `json:"date"`
	Time        string    `json:"time,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Color       string    `json:"color,omitempty"`
	Reminders   Reminders `json:"reminders,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Clone deep-copies the event's owned maps and slices.
func (e Event) Clone() Event {
	out := e
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	out.Reminders = e.Reminders.Clone()
	return out
}

// EventPatch is a partial event update. A nil field is left untouched;
// a set field replaces the corresponding event field wholesale. This is
// a shallow top-level merge: Reminders replaces the entire map, so a
// caller changing one kind must read-modify-write the whole map itself.
type EventPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
	Time        *string    `json:"time,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Color       *string    `json:"color,omitempty"`
	Reminders   Reminders  `json:"reminders,omitempty"`
}

// Apply merges the patch into ev, field by field.
func (p EventPatch) Apply(ev *Event) {
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Date != nil {
		ev.Date = *p.Date
	}
	if p.Time != nil {
		ev.Time = *p.Time
	}
	if p.Tags != nil {
		ev.Tags = append([]string(nil), p.Tags...)
	}
	if p.Color != nil {
		ev.Color = *p.Color
	}
	if p.Reminders != nil {
		ev.Reminders = p.Reminders.Clone()
	}
}

// Alert is an ephemeral in-process record backing the transient
// reminder banner. It is never persisted and expires on its own a few
// seconds after firing.
type Alert struct {
	ID      string       `json:"id"`
	EventID string       `json:"event_id"`
	Title   string       `json:"title"`
	Time    string       `json:"time"`
	Kind    ReminderKind `json:"kind"`
	FiredAt time.Time    `json:"fired_at"`
}
