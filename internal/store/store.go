// Package store owns the authoritative in-memory event collection.
// All mutation and query access goes through Store's command set; the
// raw slice is never handed out, only cloned snapshots.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "chimecal/internal/log"
	"chimecal/internal/model"
	"chimecal/internal/timeutil"
)

// Persister receives the full collection after every mutation. A nil
// Persister disables persistence (useful for tests).
type Persister interface {
	SaveEvents([]model.Event) error
}

// Store is the authoritative event collection. Mutations persist
// asynchronously: each one enqueues a full-collection snapshot on a
// single background writer which attempts every write in mutation
// order. A persist failure is logged and retained but never rolls back
// in-memory state.
type Store struct {
	mu     sync.Mutex
	events []model.Event

	persister Persister

	queueMu sync.Mutex
	queue   [][]model.Event
	wake    chan struct{}
	done    chan struct{}
	closed  bool

	errMu   sync.Mutex
	lastErr error

	now func() time.Time
}

// New builds a Store seeded with the given events (typically the loaded
// durable state) and starts the background persist writer.
func New(persister Persister, initial []model.Event) *Store {
	s := &Store{
		events:    make([]model.Event, 0, len(initial)),
		persister: persister,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	for _, ev := range initial {
		s.events = append(s.events, ev.Clone())
	}
	go s.persistLoop()
	return s
}

// Add assigns a fresh id and creation timestamp, appends the event, and
// schedules a persist. It never fails for well-formed input; rejecting
// malformed input (empty title, missing date) is the caller's job.
func (s *Store) Add(data model.Event) model.Event {
	ev := data.Clone()
	ev.ID = uuid.NewString()
	ev.CreatedAt = s.now()

	s.mu.Lock()
	s.events = append(s.events, ev)
	snap := s.cloneLocked()
	s.mu.Unlock()

	s.enqueue(snap)
	return ev.Clone()
}

// Update applies a shallow top-level merge to the event with the given
// id. An unknown id is a silent no-op; callers get no feedback either
// way.
func (s *Store) Update(id string, patch model.EventPatch) {
	s.mu.Lock()
	changed := false
	for i := range s.events {
		if s.events[i].ID == id {
			patch.Apply(&s.events[i])
			changed = true
			break
		}
	}
	var snap []model.Event
	if changed {
		snap = s.cloneLocked()
	}
	s.mu.Unlock()

	if changed {
		s.enqueue(snap)
	}
}

// Remove deletes the event with the given id; unknown ids are a silent
// no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	changed := false
	for i := range s.events {
		if s.events[i].ID == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			changed = true
			break
		}
	}
	var snap []model.Event
	if changed {
		snap = s.cloneLocked()
	}
	s.mu.Unlock()

	if changed {
		s.enqueue(snap)
	}
}

// Replace swaps in a whole new collection (JSON import) and persists it.
func (s *Store) Replace(events []model.Event) {
	next := make([]model.Event, 0, len(events))
	for _, ev := range events {
		next = append(next, ev.Clone())
	}

	s.mu.Lock()
	s.events = next
	snap := s.cloneLocked()
	s.mu.Unlock()

	s.enqueue(snap)
}

// Snapshot returns a consistent copy of the collection in insertion
// order. The copy is the caller's to keep; mutating it does not touch
// the store.
func (s *Store) Snapshot() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneLocked()
}

// Get returns the event with the given id, if present.
func (s *Store) Get(id string) (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			return s.events[i].Clone(), true
		}
	}
	return model.Event{}, false
}

// AllTags returns the deduplicated union of tags across all events,
// sorted for stable output.
func (s *Store) AllTags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for i := range s.events {
		for _, tag := range s.events[i].Tags {
			seen[tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Filtered returns events matching both predicates: an empty query
// matches everything, otherwise title or description must contain it
// case-insensitively; an empty tag set matches everything, otherwise
// the event's tags must intersect it. Substring match, not tokenized.
func (s *Store) Filtered(query string, tags []string) []model.Event {
	snap := s.Snapshot()
	q := strings.ToLower(query)

	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	out := make([]model.Event, 0, len(snap))
	for _, ev := range snap {
		if q != "" &&
			!strings.Contains(strings.ToLower(ev.Title), q) &&
			!strings.Contains(strings.ToLower(ev.Description), q) {
			continue
		}
		if len(tagSet) > 0 && !intersects(ev.Tags, tagSet) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// PersistErr returns the most recent persist failure, or nil. It is
// cleared by the next successful write.
func (s *Store) PersistErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Close stops the background writer after draining all queued
// snapshots, so no mutation's persist attempt is lost on shutdown.
func (s *Store) Close() {
	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return
	}
	s.closed = true
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

// ForDay filters events whose date falls on the given calendar day,
// ignoring time-of-day.
func ForDay(events []model.Event, day time.Time) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if timeutil.SameDay(ev.Date, day) {
			out = append(out, ev)
		}
	}
	return out
}

// SortedByTime returns the events sorted ascending by their "HH:MM"
// time. The sort is stable so equal times keep their relative order;
// an empty time sorts as "00:00". Zero-padded clock strings compare
// correctly as plain strings.
func SortedByTime(events []model.Event) []model.Event {
	out := append([]model.Event(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		return timeKey(out[i]) < timeKey(out[j])
	})
	return out
}

func timeKey(ev model.Event) string {
	if ev.Time == "" {
		return "00:00"
	}
	return ev.Time
}

func intersects(tags []string, set map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// cloneLocked copies the collection; callers must hold s.mu.
func (s *Store) cloneLocked() []model.Event {
	out := make([]model.Event, 0, len(s.events))
	for i := range s.events {
		out = append(out, s.events[i].Clone())
	}
	return out
}

// enqueue appends a snapshot to the persist queue and wakes the writer.
// The queue is unbounded so a slow disk never blocks a mutation.
func (s *Store) enqueue(snap []model.Event) {
	if s.persister == nil {
		return
	}

	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return
	}
	s.queue = append(s.queue, snap)
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// persistLoop drains queued snapshots in FIFO order, one write per
// mutation, and exits once Close has been called and the queue is
// empty.
func (s *Store) persistLoop() {
	defer close(s.done)
	for {
		s.queueMu.Lock()
		var snap []model.Event
		have := len(s.queue) > 0
		if have {
			snap = s.queue[0]
			s.queue = s.queue[1:]
		}
		closed := s.closed
		s.queueMu.Unlock()

		if have {
			s.persist(snap)
			continue
		}
		if closed {
			return
		}
		<-s.wake
	}
}

func (s *Store) persist(snap []model.Event) {
	err := s.persister.SaveEvents(snap)

	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()

	if err != nil {
		appLog.Error("event persist failed; in-memory state kept", err, "event_count", len(snap))
	}
}
