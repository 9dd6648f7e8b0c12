// Package storage is the durable store adapter. It persists the event
// collection and the theme preference through a small key-value medium
// so the rest of the application never touches the filesystem directly.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "chimecal/internal/log"
	"chimecal/internal/model"
)

// Logical keys for the persisted state.
const (
	KeyEvents = "events"
	KeyTheme  = "theme"
)

// Theme values. Anything else loaded from disk falls back to light.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// KV is the persistent key-value medium. Get reports found=false for an
// absent key without an error so callers can distinguish "empty" from
// "broken".
type KV interface {
	Get(key string) (data []byte, found bool, err error)
	Set(key string, data []byte) error
}

// FileKV stores each key as one file under a data directory, written
// atomically via a temp file + rename at 0600, the same discipline the
// config file uses.
type FileKV struct {
	dir string
}

// NewFileKV creates the data directory if needed and returns a FileKV
// rooted there.
func NewFileKV(dir string) (*FileKV, error) {
	if dir == "" {
		return nil, errors.New("storage: data dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (f *FileKV) Set(key string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".chimecal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path(key))
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// persistedEvent is the on-disk shape of an event. Date travels as an
// ISO-8601 (RFC 3339) text string; everything else as-is. This is also
// the import/export wire shape.
type persistedEvent struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Date        string          `json:"date"`
	Time        string          `json:"time,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Color       string          `json:"color,omitempty"`
	Reminders   model.Reminders `json:"reminders,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Adapter reads and writes the application state through a KV medium.
type Adapter struct {
	kv KV
}

func NewAdapter(kv KV) *Adapter {
	return &Adapter{kv: kv}
}

// SaveEvents persists the whole collection under the events key.
func (a *Adapter) SaveEvents(events []model.Event) error {
	out := make([]persistedEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, persistedEvent{
			ID:          ev.ID,
			Title:       ev.Title,
			Description: ev.Description,
			Date:        ev.Date.Format(time.RFC3339),
			Time:        ev.Time,
			Tags:        ev.Tags,
			Color:       ev.Color,
			Reminders:   ev.Reminders,
			CreatedAt:   ev.CreatedAt,
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("storage: encode events: %w", err)
	}
	if err := a.kv.Set(KeyEvents, data); err != nil {
		return fmt.Errorf("storage: write events: %w", err)
	}
	return nil
}

// LoadEvents reads the collection back. Absent or malformed data yields
// an empty collection, never an error: durable state must not be able
// to wedge startup. Individual events with an unparsable date are
// skipped rather than poisoning the rest.
func (a *Adapter) LoadEvents() []model.Event {
	data, found, err := a.kv.Get(KeyEvents)
	if err != nil {
		appLog.Error("storage: read events failed, starting empty", err)
		return []model.Event{}
	}
	if !found {
		return []model.Event{}
	}

	var raw []persistedEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		appLog.Error("storage: events data malformed, starting empty", err)
		return []model.Event{}
	}

	events := make([]model.Event, 0, len(raw))
	for _, pe := range raw {
		date, err := parseEventDate(pe.Date)
		if err != nil {
			appLog.Error("storage: skipping event with bad date", err, "id", pe.ID, "date", pe.Date)
			continue
		}
		events = append(events, model.Event{
			ID:          pe.ID,
			Title:       pe.Title,
			Description: pe.Description,
			Date:        date,
			Time:        pe.Time,
			Tags:        pe.Tags,
			Color:       pe.Color,
			Reminders:   pe.Reminders,
			CreatedAt:   pe.CreatedAt,
		})
	}
	return events
}

// SaveTheme persists the theme preference as a JSON string, so the
// backing file stays valid JSON like every other key. Unknown values
// are coerced to light before writing.
func (a *Adapter) SaveTheme(theme string) error {
	if theme != ThemeLight && theme != ThemeDark {
		theme = ThemeLight
	}
	data, err := json.Marshal(theme)
	if err != nil {
		return fmt.Errorf("storage: encode theme: %w", err)
	}
	if err := a.kv.Set(KeyTheme, data); err != nil {
		return fmt.Errorf("storage: write theme: %w", err)
	}
	return nil
}

// LoadTheme returns the persisted theme, defaulting to light when the
// key is absent, unreadable, or holds an unknown value. Bare-text
// values written by older versions still load.
func (a *Adapter) LoadTheme() string {
	data, found, err := a.kv.Get(KeyTheme)
	if err != nil {
		appLog.Error("storage: read theme failed, using default", err)
		return ThemeLight
	}
	if !found {
		return ThemeLight
	}
	var theme string
	if err := json.Unmarshal(data, &theme); err != nil {
		theme = strings.TrimSpace(string(data))
	}
	if theme != ThemeLight && theme != ThemeDark {
		return ThemeLight
	}
	return theme
}

// ExportEvents returns the events key exactly as persisted, for the
// JSON export endpoint. The export format is the persisted shape, byte
// for byte.
func (a *Adapter) ExportEvents(events []model.Event) ([]byte, error) {
	out := make([]persistedEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, persistedEvent{
			ID:          ev.ID,
			Title:       ev.Title,
			Description: ev.Description,
			Date:        ev.Date.Format(time.RFC3339),
			Time:        ev.Time,
			Tags:        ev.Tags,
			Color:       ev.Color,
			Reminders:   ev.Reminders,
			CreatedAt:   ev.CreatedAt,
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

// ImportEvents parses a JSON export back into events. Unlike LoadEvents
// this is strict: the caller is handing us data explicitly, so
// malformed input is an error rather than an empty collection.
func (a *Adapter) ImportEvents(data []byte) ([]model.Event, error) {
	var raw []persistedEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("storage: decode import: %w", err)
	}
	events := make([]model.Event, 0, len(raw))
	for _, pe := range raw {
		date, err := parseEventDate(pe.Date)
		if err != nil {
			return nil, fmt.Errorf("storage: import event %q: %w", pe.ID, err)
		}
		events = append(events, model.Event{
			ID:          pe.ID,
			Title:       pe.Title,
			Description: pe.Description,
			Date:        date,
			Time:        pe.Time,
			Tags:        pe.Tags,
			Color:       pe.Color,
			Reminders:   pe.Reminders,
			CreatedAt:   pe.CreatedAt,
		})
	}
	return events, nil
}

// parseEventDate accepts RFC 3339 and the date-only form older exports
// may carry.
func parseEventDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.Local)
}
