package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chimecal/internal/config"
	"chimecal/internal/ics"
	appLog "chimecal/internal/log"
	"chimecal/internal/model"
	"chimecal/internal/reminder"
	"chimecal/internal/storage"
	"chimecal/internal/store"
	"chimecal/internal/timeutil"
)

// maxBodyBytes caps request bodies; imports are the largest payload
// and a whole collection fits comfortably under this.
const maxBodyBytes = 4 << 20

// Server exposes the event store, reminder alerts, and theme over HTTP.
// It is the command surface the UI talks to; all input validation
// happens here, at the boundary, never inside the store.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	adapter *storage.Adapter
	eval    *reminder.Evaluator
	mux     *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st *store.Store, adapter *storage.Adapter, eval *reminder.Evaluator) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		adapter: adapter,
		eval:    eval,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays reachable without credentials.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="chimecal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	s.mux.HandleFunc("GET /api/tags", s.handleTags)
	s.mux.HandleFunc("GET /api/grid", s.handleGrid)

	s.mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	s.mux.HandleFunc("DELETE /api/alerts/{id}", s.handleDismissAlert)

	s.mux.HandleFunc("GET /api/theme", s.handleGetTheme)
	s.mux.HandleFunc("PUT /api/theme", s.handlePutTheme)

	s.mux.HandleFunc("GET /api/export.json", s.handleExportJSON)
	s.mux.HandleFunc("POST /api/import.json", s.handleImportJSON)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExportICS)
}

// handleHealth reports liveness plus the most recent persist failure,
// if any, so a storage problem is visible without log access.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	type healthResp struct {
		Status     string `json:"status"`
		PersistErr string `json:"persist_error,omitempty"`
	}
	resp := healthResp{Status: "ok"}
	if err := s.store.PersistErr(); err != nil {
		resp.PersistErr = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events []model.Event `json:"events"`
}

// handleListEvents returns the collection filtered and sorted for
// display.
//
// GET /api/events?query=meet&tags=work,home&day=2024-05-10
//   - query: case-insensitive substring over title/description
//   - tags:  comma-separated; event must carry at least one
//   - day:   restrict to one calendar day (YYYY-MM-DD)
//
// The result is always sorted ascending by event time.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var tags []string
	if raw := q.Get("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	events := s.store.Filtered(q.Get("query"), tags)

	if rawDay := q.Get("day"); rawDay != "" {
		day, err := time.ParseInLocation("2006-01-02", rawDay, s.cfg.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		events = store.ForDay(events, day)
	}

	writeJSON(w, http.StatusOK, eventsResponse{Events: store.SortedByTime(events)})
}

// eventRequest is the JSON body for event creation.
type eventRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	Time        string          `json:"time"`
	Tags        []string        `json:"tags"`
	Color       string          `json:"color"`
	Reminders   model.Reminders `json:"reminders"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	date, err := validateEventInput(req.Title, req.Date, req.Time, s.cfg.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := s.store.Add(model.Event{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Date:        date,
		Time:        req.Time,
		Tags:        req.Tags,
		Color:       req.Color,
		Reminders:   req.Reminders,
	})

	appLog.Info("event created", "id", ev.ID, "title", ev.Title)
	writeJSON(w, http.StatusCreated, ev)
}

// eventPatchRequest mirrors model.EventPatch on the wire: absent fields
// stay untouched, present fields replace wholesale.
type eventPatchRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Date        *string         `json:"date"`
	Time        *string         `json:"time"`
	Tags        []string        `json:"tags"`
	Color       *string         `json:"color"`
	Reminders   model.Reminders `json:"reminders"`
}

// handleUpdateEvent applies a shallow patch. An unknown id is a silent
// no-op in the store, so the response is 204 either way; callers must
// not assume feedback.
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req eventPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patch := model.EventPatch{
		Description: req.Description,
		Time:        req.Time,
		Tags:        req.Tags,
		Color:       req.Color,
		Reminders:   req.Reminders,
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		patch.Title = &title
	}
	if req.Time != nil && *req.Time != "" && !validClock(*req.Time) {
		writeError(w, http.StatusBadRequest, "time must be HH:MM")
		return
	}
	if req.Date != nil {
		date, err := parseDateInput(*req.Date, s.cfg.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD or RFC 3339")
			return
		}
		patch.Date = &date
	}

	s.store.Update(id, patch)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	s.store.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTags(w http.ResponseWriter, _ *http.Request) {
	type tagsResp struct {
		Tags []string `json:"tags"`
	}
	writeJSON(w, http.StatusOK, tagsResp{Tags: s.store.AllTags()})
}

// gridResponse is the calendar layout data a renderer needs: the cell
// days for the requested view plus the fixed hourly slots.
type gridResponse struct {
	View      string   `json:"view"`
	Days      []string `json:"days"`
	TimeSlots []string `json:"time_slots"`
	WeekStart string   `json:"week_start"`
}

// handleGrid returns the month or week cells around a date.
//
// GET /api/grid?view=month&date=2024-05-10
//   - view: "month" (default) or "week"
//   - date: anchor day, defaults to today
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := s.cfg.Location()

	anchor := time.Now().In(loc)
	if rawDate := q.Get("date"); rawDate != "" {
		d, err := time.ParseInLocation("2006-01-02", rawDate, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		anchor = d
	}

	view := q.Get("view")
	var days []time.Time
	switch view {
	case "", "month":
		view = "month"
		days = timeutil.MonthGrid(anchor, s.cfg.WeekStartDay())
	case "week":
		days = timeutil.WeekDays(anchor, s.cfg.WeekStartDay())
	default:
		writeError(w, http.StatusBadRequest, "view must be month or week")
		return
	}

	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Format("2006-01-02"))
	}

	writeJSON(w, http.StatusOK, gridResponse{
		View:      view,
		Days:      out,
		TimeSlots: timeutil.TimeSlots(),
		WeekStart: s.cfg.WeekStart,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	type alertsResp struct {
		Alerts []model.Alert `json:"alerts"`
	}
	writeJSON(w, http.StatusOK, alertsResp{Alerts: s.eval.Active(time.Now())})
}

func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	s.eval.Dismiss(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTheme(w http.ResponseWriter, _ *http.Request) {
	type themeResp struct {
		Theme string `json:"theme"`
	}
	writeJSON(w, http.StatusOK, themeResp{Theme: s.adapter.LoadTheme()})
}

func (s *Server) handlePutTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme string `json:"theme"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Theme != storage.ThemeLight && req.Theme != storage.ThemeDark {
		writeError(w, http.StatusBadRequest, "theme must be light or dark")
		return
	}
	if err := s.adapter.SaveTheme(req.Theme); err != nil {
		appLog.Error("theme save failed", err)
		writeError(w, http.StatusInternalServerError, "failed to save theme")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportJSON streams the collection in exactly the persisted
// events shape.
func (s *Server) handleExportJSON(w http.ResponseWriter, _ *http.Request) {
	data, err := s.adapter.ExportEvents(s.store.Snapshot())
	if err != nil {
		appLog.Error("json export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export events")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="chimecal-events.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleImportJSON replaces the whole collection with a previously
// exported payload. Malformed input is rejected without touching the
// current collection.
func (s *Server) handleImportJSON(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	events, err := s.adapter.ImportEvents(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.store.Replace(events)
	appLog.Info("events imported", "event_count", len(events))

	type importResp struct {
		Imported int `json:"imported"`
	}
	writeJSON(w, http.StatusOK, importResp{Imported: len(events)})
}

func (s *Server) handleExportICS(w http.ResponseWriter, _ *http.Request) {
	doc := ics.Export(s.store.Snapshot())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="chimecal-events.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// validateEventInput checks the creation invariants the store itself
// does not enforce: non-empty title, a parseable date, and a
// well-formed time when present. Returns the parsed date.
func validateEventInput(title, date, clock string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(title) == "" {
		return time.Time{}, errors.New("title is required")
	}
	if date == "" {
		return time.Time{}, errors.New("date is required")
	}
	d, err := parseDateInput(date, loc)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD or RFC 3339")
	}
	if clock != "" && !validClock(clock) {
		return time.Time{}, errors.New("time must be HH:MM")
	}
	return d, nil
}

// parseDateInput accepts the date-only form the UI sends and full
// RFC 3339 for round-tripped data.
func parseDateInput(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// validClock accepts exactly the zero-padded "HH:MM" shape. The sorted
// views compare times as plain strings, so unpadded or longer forms
// must never get past the boundary.
func validClock(s string) bool {
	if len(s) != len("15:04") {
		return false
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}

func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
