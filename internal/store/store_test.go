package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chimecal/internal/model"
)

// fakePersister records every snapshot it is handed, in order, and can
// be told to fail.
type fakePersister struct {
	mu    sync.Mutex
	saves [][]model.Event
	err   error
}

func (f *fakePersister) SaveEvents(events []model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves = append(f.saves, events)
	return nil
}

func (f *fakePersister) saved() [][]model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]model.Event(nil), f.saves...)
}

func (f *fakePersister) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddAssignsIdentity(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	defer s.Close()

	ev := s.Add(model.Event{Title: "Team Meeting", Date: day(2024, 5, 10), Time: "09:00"})

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())

	other := s.Add(model.Event{Title: "Lunch", Date: day(2024, 5, 10)})
	assert.NotEqual(t, ev.ID, other.ID)
}

func TestAddThenLookup(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	defer s.Close()

	ev := s.Add(model.Event{Title: "Team Meeting", Date: day(2024, 5, 10), Time: "09:00", Tags: []string{"work"}})

	byDay := ForDay(s.Snapshot(), day(2024, 5, 10))
	require.Len(t, byDay, 1)
	assert.Equal(t, ev.ID, byDay[0].ID)

	filtered := s.Filtered("meet", nil)
	require.Len(t, filtered, 1)
	assert.Equal(t, ev.ID, filtered[0].ID)

	assert.Empty(t, ForDay(s.Snapshot(), day(2024, 5, 11)))
}

func TestUpdateShallowMerge(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	defer s.Close()

	ev := s.Add(model.Event{
		Title:       "Team Meeting",
		Description: "weekly sync",
		Date:        day(2024, 5, 10),
		Time:        "09:00",
		Reminders: model.Reminders{
			model.Remind10Min: {Enabled: true},
			model.Remind1Hr:   {Enabled: true},
		},
	})

	title := "Planning"
	s.Update(ev.ID, model.EventPatch{Title: &title})

	got, ok := s.Get(ev.ID)
	require.True(t, ok)
	assert.Equal(t, "Planning", got.Title)
	// Untouched fields survive.
	assert.Equal(t, "weekly sync", got.Description)
	assert.Equal(t, "09:00", got.Time)

	// Reminders replace wholesale: patching with only one kind drops
	// the others. That is the contract callers must work around by
	// read-modify-writing the whole map.
	s.Update(ev.ID, model.EventPatch{
		Reminders: model.Reminders{model.Remind10Min: {Enabled: true, Triggered: true}},
	})
	got, ok = s.Get(ev.ID)
	require.True(t, ok)
	require.Len(t, got.Reminders, 1)
	assert.True(t, got.Reminders[model.Remind10Min].Triggered)
}

func TestUpdateUnknownIDIsNoOp(t *testing.T) {
	t.Parallel()

	p := &fakePersister{}
	s := New(p, nil)
	defer s.Close()

	s.Add(model.Event{Title: "Team Meeting", Date: day(2024, 5, 10)})
	before := s.Snapshot()

	title := "changed"
	s.Update("no-such-id", model.EventPatch{Title: &title})
	s.Remove("no-such-id")

	assert.Equal(t, before, s.Snapshot())

	// No-op mutations do not schedule persists.
	s.Close()
	assert.Len(t, p.saved(), 1)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	defer s.Close()

	ev := s.Add(model.Event{Title: "Team Meeting", Date: day(2024, 5, 10)})
	keep := s.Add(model.Event{Title: "Lunch", Date: day(2024, 5, 10)})

	s.Remove(ev.ID)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, keep.ID, snap[0].ID)

	_, ok := s.Get(ev.ID)
	assert.False(t, ok)
}

func TestAllTags(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	defer s.Close()

	s.Add(model.Event{Title: "a", Date: day(2024, 5, 10), Tags: []string{"work", "urgent"}})
	s.Add(model.Event{Title: "b", Date: day(2024, 5, 11), Tags: []string{"work", "home"}})
	s.Add(model.Event{Title: "c", Date: day(2024, 5, 12)})

	assert.Equal(t, []string{"home", "urgent", "work"}, s.AllTags())
}

func TestFiltered(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	defer s.Close()

	s.Add(model.Event{Title: "Team Meeting", Date: day(2024, 5, 10), Tags: []string{"work"}})
	s.Add(model.Event{Title: "Lunch", Description: "meet Ana", Date: day(2024, 5, 10), Tags: []string{"home"}})
	s.Add(model.Event{Title: "Gym", Date: day(2024, 5, 10)})

	tests := []struct {
		name       string
		query      string
		tags       []string
		wantTitles []string
	}{
		{"empty query and tags match all", "", nil, []string{"Team Meeting", "Lunch", "Gym"}},
		{"query matches title", "meet", nil, []string{"Team Meeting", "Lunch"}},
		{"query is case-insensitive", "MEET", nil, []string{"Team Meeting", "Lunch"}},
		{"query matches description", "ana", nil, []string{"Lunch"}},
		{"tag filter", "", []string{"work"}, []string{"Team Meeting"}},
		{"query and tags are AND-ed", "meet", []string{"home"}, []string{"Lunch"}},
		{"no match", "standup", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := s.Filtered(tt.query, tt.tags)
			titles := make([]string, 0, len(got))
			for _, ev := range got {
				titles = append(titles, ev.Title)
			}
			if tt.wantTitles == nil {
				assert.Empty(t, titles)
			} else {
				assert.Equal(t, tt.wantTitles, titles)
			}
		})
	}
}

func TestSortedByTimeStable(t *testing.T) {
	t.Parallel()

	events := []model.Event{
		{ID: "a", Time: "14:00"},
		{ID: "b", Time: "09:30"},
		{ID: "c", Time: "09:30"},
		{ID: "d"}, // missing time sorts as 00:00
	}

	sorted := SortedByTime(events)

	ids := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID, sorted[3].ID}
	assert.Equal(t, []string{"d", "b", "c", "a"}, ids)

	// Input order is untouched.
	assert.Equal(t, "a", events[0].ID)
}

func TestSnapshotDoesNotAliasStore(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	defer s.Close()

	ev := s.Add(model.Event{
		Title:     "Team Meeting",
		Date:      day(2024, 5, 10),
		Tags:      []string{"work"},
		Reminders: model.Reminders{model.Remind10Min: {Enabled: true}},
	})

	snap := s.Snapshot()
	snap[0].Tags[0] = "mutated"
	snap[0].Reminders[model.Remind10Min] = model.ReminderSetting{Enabled: false}

	got, _ := s.Get(ev.ID)
	assert.Equal(t, []string{"work"}, got.Tags)
	assert.True(t, got.Reminders[model.Remind10Min].Enabled)
}

func TestPersistOrderAndDrain(t *testing.T) {
	t.Parallel()

	p := &fakePersister{}
	s := New(p, nil)

	a := s.Add(model.Event{Title: "a", Date: day(2024, 5, 10)})
	s.Add(model.Event{Title: "b", Date: day(2024, 5, 11)})
	s.Remove(a.ID)

	// Close drains the queue, so all three mutations must have been
	// attempted, in order.
	s.Close()

	saves := p.saved()
	require.Len(t, saves, 3)
	assert.Len(t, saves[0], 1)
	assert.Len(t, saves[1], 2)
	assert.Len(t, saves[2], 1)
	assert.Equal(t, "b", saves[2][0].Title)
}

func TestPersistFailureKeepsState(t *testing.T) {
	t.Parallel()

	p := &fakePersister{}
	p.fail(errors.New("quota exceeded"))

	s := New(p, nil)

	ev := s.Add(model.Event{Title: "Team Meeting", Date: day(2024, 5, 10)})
	s.Close()

	// In-memory state is never rolled back by a persist failure.
	got, ok := s.Get(ev.ID)
	require.True(t, ok)
	assert.Equal(t, "Team Meeting", got.Title)

	require.Error(t, s.PersistErr())
	assert.Contains(t, s.PersistErr().Error(), "quota exceeded")
}

func TestReplace(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	defer s.Close()

	s.Add(model.Event{Title: "old", Date: day(2024, 5, 10)})

	s.Replace([]model.Event{
		{ID: "x", Title: "imported", Date: day(2024, 6, 1), CreatedAt: time.Now()},
	})

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "imported", snap[0].Title)
}
