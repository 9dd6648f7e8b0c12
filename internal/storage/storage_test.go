package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chimecal/internal/model"
)

// memKV is an in-memory medium for adapter tests.
type memKV struct {
	data map[string][]byte
	err  error
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}}
}

func (m *memKV) Get(key string) ([]byte, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	data, ok := m.data[key]
	return data, ok, nil
}

func (m *memKV) Set(key string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = data
	return nil
}

func sampleEvents() []model.Event {
	return []model.Event{
		{
			ID:          "ev-1",
			Title:       "Team Meeting",
			Description: "weekly sync",
			Date:        time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
			Time:        "09:00",
			Tags:        []string{"work"},
			Color:       "blue",
			Reminders: model.Reminders{
				model.Remind10Min: {Enabled: true, Triggered: true},
				model.Remind1Day:  {Enabled: true},
			},
			CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:    "ev-2",
			Title: "Lunch",
			Date:  time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestEventsRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	a := NewAdapter(kv)

	require.NoError(t, a.SaveEvents(sampleEvents()))

	got := a.LoadEvents()
	require.Len(t, got, 2)
	assert.Equal(t, "ev-1", got[0].ID)
	assert.Equal(t, "Team Meeting", got[0].Title)
	assert.True(t, got[0].Date.Equal(time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "09:00", got[0].Time)
	assert.Equal(t, []string{"work"}, got[0].Tags)
	// The triggered flag must survive the round trip.
	assert.True(t, got[0].Reminders[model.Remind10Min].Triggered)
	assert.False(t, got[0].Reminders[model.Remind1Day].Triggered)
}

func TestLoadEventsDegradesToEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(kv *memKV)
	}{
		{"absent key", func(kv *memKV) {}},
		{"malformed json", func(kv *memKV) {
			kv.data[KeyEvents] = []byte("{not json")
		}},
		{"read error", func(kv *memKV) {
			kv.err = errors.New("disk gone")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			kv := newMemKV()
			tt.setup(kv)

			got := NewAdapter(kv).LoadEvents()
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestLoadEventsSkipsBadDate(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	kv.data[KeyEvents] = []byte(`[
		{"id":"bad","title":"x","date":"whenever"},
		{"id":"good","title":"y","date":"2024-05-10T00:00:00Z"}
	]`)

	got := NewAdapter(kv).LoadEvents()
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].ID)
}

func TestLoadEventsAcceptsDateOnly(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	kv.data[KeyEvents] = []byte(`[{"id":"a","title":"x","date":"2024-05-10"}]`)

	got := NewAdapter(kv).LoadEvents()
	require.Len(t, got, 1)
	assert.Equal(t, 2024, got[0].Date.Year())
	assert.Equal(t, time.May, got[0].Date.Month())
	assert.Equal(t, 10, got[0].Date.Day())
}

func TestTheme(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	a := NewAdapter(kv)

	// Default when absent.
	assert.Equal(t, ThemeLight, a.LoadTheme())

	require.NoError(t, a.SaveTheme(ThemeDark))
	assert.Equal(t, ThemeDark, a.LoadTheme())
	// On disk the value is a JSON string, matching the other keys.
	assert.Equal(t, []byte(`"dark"`), kv.data[KeyTheme])

	// Legacy bare-text values still load.
	kv.data[KeyTheme] = []byte("dark")
	assert.Equal(t, ThemeDark, a.LoadTheme())

	// Unknown persisted value falls back to light.
	kv.data[KeyTheme] = []byte("solarized")
	assert.Equal(t, ThemeLight, a.LoadTheme())
	kv.data[KeyTheme] = []byte(`"solarized"`)
	assert.Equal(t, ThemeLight, a.LoadTheme())

	// Unknown value on save is coerced.
	require.NoError(t, a.SaveTheme("neon"))
	assert.Equal(t, ThemeLight, a.LoadTheme())
}

func TestImportExportRoundTrip(t *testing.T) {
	t.Parallel()

	a := NewAdapter(newMemKV())

	data, err := a.ExportEvents(sampleEvents())
	require.NoError(t, err)

	got, err := a.ImportEvents(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Team Meeting", got[0].Title)
	assert.True(t, got[0].Reminders[model.Remind10Min].Triggered)
}

func TestImportRejectsMalformed(t *testing.T) {
	t.Parallel()

	a := NewAdapter(newMemKV())

	_, err := a.ImportEvents([]byte("nope"))
	assert.Error(t, err)

	_, err = a.ImportEvents([]byte(`[{"id":"a","title":"x","date":"???"}]`))
	assert.Error(t, err)
}

func TestFileKV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	kv, err := NewFileKV(filepath.Join(dir, "data"))
	require.NoError(t, err)

	// Absent key: found=false, no error.
	_, found, err := kv.Get("events")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set("events", []byte(`[]`)))

	data, found, err := kv.Get("events")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte(`[]`), data)

	// Files are written 0600.
	info, err := os.Stat(filepath.Join(dir, "data", "events.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Overwrites replace atomically.
	require.NoError(t, kv.Set("events", []byte(`[1]`)))
	data, _, _ = kv.Get("events")
	assert.Equal(t, []byte(`[1]`), data)
}

func TestFileKVEmptyDir(t *testing.T) {
	t.Parallel()

	_, err := NewFileKV("")
	assert.Error(t, err)
}
