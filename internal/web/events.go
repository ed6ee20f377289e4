package web

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"contentcal/internal/ics"
	appLog "contentcal/internal/log"
	"contentcal/internal/model"
)

const (
	eventsCacheTTL    = 30 * time.Second
	maxEventBodyBytes = 1 << 20
	defaultEventTitle = "Untitled event"
)

// eventsCache holds the encoded /api/events response.
type eventsCache struct {
	body      []byte
	etag      string
	updatedAt time.Time
}

// handleEvents serves GET (list) and POST (create) on /api/events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.listEvents(w, r)
	case http.MethodPost:
		s.createEvent(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	ec, err := s.cachedEvents(r)
	if err != nil {
		appLog.Error("api events: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	w.Header().Set("ETag", ec.etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), ec.etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ec.body)
}

// cachedEvents returns the list body, rebuilding it when stale.
func (s *Server) cachedEvents(r *http.Request) (*eventsCache, error) {
	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && time.Since(ec.updatedAt) < eventsCacheTTL {
		return ec, nil
	}

	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(body)
	ec = &eventsCache{
		body:      append(body, '\n'),
		etag:      `"` + hex.EncodeToString(sum[:8]) + `"`,
		updatedAt: time.Now(),
	}

	s.eventsMu.Lock()
	s.eventsCache = ec
	s.eventsMu.Unlock()

	appLog.Debug("api events cache rebuilt", "count", len(events), "etag", ec.etag)
	return ec, nil
}

func (s *Server) invalidateEvents() {
	s.eventsMu.Lock()
	s.eventsCache = nil
	s.eventsMu.Unlock()
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// eventRequest is the POST body. Date accepts RFC 3339 or YYYY-MM-DD.
type eventRequest struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEventBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	date, err := s.parseEventDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultEventTitle
	}

	ev, err := s.store.CreateEvent(r.Context(), model.EventInput{
		Title:       title,
		Date:        date,
		Description: req.Description,
		ImageURL:    strings.TrimSpace(req.ImageURL),
	})
	if err != nil {
		appLog.Error("api events: create failed", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}
	s.invalidateEvents()

	appLog.Info("api event created", "id", ev.ID, "date", ev.Date.Format(time.RFC3339))
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) parseEventDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("date is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, v, s.loc); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("date must be RFC 3339 or YYYY-MM-DD")
}

// handleEventsICS exports every event as an iCalendar feed.
func (s *Server) handleEventsICS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		appLog.Error("api ics: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	var buf bytes.Buffer
	err = ics.Export(&buf, events, ics.ExportOptions{
		Name:     "Content calendar",
		Location: s.loc,
		BaseURL:  s.publicBaseURL(r),
		Host:     r.Host,
	})
	if err != nil {
		appLog.Error("api ics: export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export events")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="contentcal.ics"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) publicBaseURL(r *http.Request) string {
	if s.cfg.PublicBaseURL != "" {
		return s.cfg.PublicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
