// Package reminder runs the periodic scan that decides which reminders
// have entered their trigger window, notifies for each exactly once,
// and writes the fired flag back through the event store.
package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "chimecal/internal/log"
	"chimecal/internal/model"
	"chimecal/internal/notify"
	"chimecal/internal/timeutil"
)

// AlertTTL is how long an ephemeral alert stays active after firing,
// independent of the tick cycle.
const AlertTTL = 5 * time.Second

// DefaultSchedule ticks once per minute, matching the trigger window.
const DefaultSchedule = "* * * * *"

// EventSource is the slice of the event store the evaluator needs:
// a consistent snapshot to scan and a patch writer for fired flags.
type EventSource interface {
	Snapshot() []model.Event
	Update(id string, patch model.EventPatch)
}

// Evaluator scans all (event, reminder-kind) pairs on every tick.
// Each pair moves disabled -> pending -> fired; fired is terminal here
// and survives restarts because the flag is persisted through the
// store.
type Evaluator struct {
	src  EventSource
	sink notify.Sink

	mu       sync.Mutex
	lastTick time.Time
	alerts   []model.Alert

	// now is swapped in tests for deterministic clocks.
	now func() time.Time
}

// New builds an Evaluator over the given event source and sink.
func New(src EventSource, sink notify.Sink) *Evaluator {
	return &Evaluator{
		src:  src,
		sink: sink,
		now:  time.Now,
	}
}

// Run requests notification permission once (only from the default
// state), ticks immediately, and then ticks on the cron schedule until
// ctx is canceled. It blocks until teardown is complete.
func (e *Evaluator) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if e.sink.PermissionState() == notify.PermissionDefault {
		e.sink.RequestPermission(ctx)
	}

	e.Tick(e.now())

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { e.Tick(e.now()) }); err != nil {
		return fmt.Errorf("reminder: bad schedule %q: %w", schedule, err)
	}
	c.Start()
	appLog.Info("reminder evaluator started", "schedule", schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("reminder evaluator stopped")
	return nil
}

// Tick runs one evaluation pass against a consistent snapshot taken at
// now. Pairs fire when their trigger instant is inside the forward
// window [now, now+60s), or, as a catch-up for delayed ticks, when it
// fell between the previous tick and now. The fired flag makes both
// paths one-shot.
func (e *Evaluator) Tick(now time.Time) {
	events := e.src.Snapshot()

	e.mu.Lock()
	prev := e.lastTick
	e.lastTick = now
	e.mu.Unlock()

	for _, ev := range events {
		// Every kind present on the event is evaluated, not just the
		// well-known ones; an unrecognized kind triggers at the event
		// instant itself. Keys are sorted for a deterministic firing
		// order within one event.
		for _, kind := range sortedKinds(ev.Reminders) {
			setting := ev.Reminders[kind]
			if !setting.Enabled || setting.Triggered {
				continue
			}

			trigger := timeutil.ReminderTriggerTime(ev.Date, ev.Time, kind)
			if !due(trigger, now, prev) {
				continue
			}

			// Notification failure must not block the fired
			// transition; the sink degrades to a no-op on its own.
			e.sink.Notify("Calendar Reminder", fmt.Sprintf("Reminder: %s at %s", ev.Title, ev.Time))

			e.addAlert(ev, kind, now)

			// The store merges shallowly, so write the whole
			// reminders map back with just this kind flipped.
			merged := ev.Reminders.Clone()
			st := merged[kind]
			st.Triggered = true
			merged[kind] = st
			e.src.Update(ev.ID, model.EventPatch{Reminders: merged})

			appLog.Info("reminder fired", "event_id", ev.ID, "kind", string(kind), "title", ev.Title)
		}
	}

	e.prune(now)
}

// sortedKinds returns the map's keys in a stable order.
func sortedKinds(r model.Reminders) []model.ReminderKind {
	kinds := make([]model.ReminderKind, 0, len(r))
	for kind := range r {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// due reports whether a pending reminder should fire at now. prev is
// the previous tick's instant; a zero prev (first tick) disables the
// catch-up check.
func due(trigger, now, prev time.Time) bool {
	if timeutil.InTriggerWindow(trigger, now) {
		return true
	}
	if prev.IsZero() {
		return false
	}
	return trigger.Before(now) && !trigger.Before(prev)
}

// Active returns the alerts still inside their display duration,
// newest last.
func (e *Evaluator) Active(now time.Time) []model.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if now.Sub(a.FiredAt) < AlertTTL {
			out = append(out, a)
		}
	}
	return out
}

// Dismiss removes an alert before its display duration elapses.
// Unknown ids are a no-op.
func (e *Evaluator) Dismiss(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, a := range e.alerts {
		if a.ID == id {
			e.alerts = append(e.alerts[:i], e.alerts[i+1:]...)
			return
		}
	}
}

func (e *Evaluator) addAlert(ev model.Event, kind model.ReminderKind, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = append(e.alerts, model.Alert{
		ID:      ev.ID + "-" + string(kind),
		EventID: ev.ID,
		Title:   ev.Title,
		Time:    ev.Time,
		Kind:    kind,
		FiredAt: now,
	})
}

// prune drops expired alerts so the slice does not grow without
// bound between Active calls.
func (e *Evaluator) prune(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.alerts[:0]
	for _, a := range e.alerts {
		if now.Sub(a.FiredAt) < AlertTTL {
			kept = append(kept, a)
		}
	}
	e.alerts = kept
}
