// Package session drives the calendar client: it owns the cache, the month
// load tracker, the backend client and the local store, and turns user
// actions (navigate, save, delete, refresh) into cache updates and render
// instructions.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"contentcal/internal/calendar"
	"contentcal/internal/localstore"
	appLog "contentcal/internal/log"
	"contentcal/internal/remote"
)

var (
	// ErrInvalidDate is returned by SaveContent when the draft has no
	// usable day.
	ErrInvalidDate = errors.New("session: content has no valid date")
	// ErrNotFound is returned for an unknown content id.
	ErrNotFound = errors.New("session: content not found")
)

// Remote is the subset of remote.Client a Session uses.
type Remote interface {
	ListEvents(ctx context.Context) ([]remote.Event, error)
	CreateEvent(ctx context.Context, in remote.EventInput) (*remote.Event, error)
	UploadImage(ctx context.Context, filename string, data []byte) (*remote.UploadedImage, error)
}

// Store persists the cache.
type Store interface {
	Load() (*calendar.Cache, error)
	Save(c *calendar.Cache) error
}

var (
	_ Remote = (*remote.Client)(nil)
	_ Store  = (*localstore.Adapter)(nil)
)

// Config wires a Session.
type Config struct {
	Remote   Remote
	Store    Store
	Renderer calendar.Renderer
	// BaseURL prefixes relative image paths of backend events.
	BaseURL string
	// Location is the display time zone. Nil means time.Local.
	Location *time.Location
	Now      func() time.Time
}

// Session is one running calendar client.
type Session struct {
	remote   Remote
	store    Store
	renderer calendar.Renderer
	baseURL  string
	loc      *time.Location
	now      func() time.Time

	cache   *calendar.Cache
	tracker *calendar.MonthTracker

	// mu serializes user actions and guards current.
	mu      sync.Mutex
	current calendar.MonthKey

	renderMu sync.Mutex
}

// Open loads the cache from the store and restores the last viewed month,
// falling back to the current month. It does not contact the backend.
func Open(cfg Config) (*Session, error) {
	if cfg.Remote == nil || cfg.Store == nil || cfg.Renderer == nil {
		return nil, errors.New("session: remote, store and renderer are required")
	}
	s := &Session{
		remote:   cfg.Remote,
		store:    cfg.Store,
		renderer: cfg.Renderer,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		loc:      cfg.Location,
		now:      cfg.Now,
		tracker:  calendar.NewMonthTracker(),
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}

	cache, err := s.store.Load()
	if err != nil {
		appLog.Error("session: local store unavailable; starting empty", err)
	}
	if cache == nil {
		cache = calendar.NewCache()
	}
	s.cache = cache

	if m, ok := cache.Metadata().Current(); ok {
		s.current = m
	} else {
		s.current = calendar.MonthOf(s.now().In(s.loc))
		s.cache.SetCurrent(s.current)
	}

	days, records := cache.Len()
	appLog.Info("session opened", "month", s.current.String(), "days", days, "records", records)
	return s, nil
}

// Cache exposes the session cache for read access.
func (s *Session) Cache() *calendar.Cache { return s.cache }

// Tracker exposes the month load tracker.
func (s *Session) Tracker() *calendar.MonthTracker { return s.tracker }

// Current returns the month on screen.
func (s *Session) Current() calendar.MonthKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Navigate moves delta months from the current one and loads it.
func (s *Session) Navigate(ctx context.Context, delta int) error {
	return s.GoTo(ctx, s.Current().Add(delta))
}

// GoTo makes m the current month, persists that choice and loads m.
func (s *Session) GoTo(ctx context.Context, m calendar.MonthKey) error {
	if !m.Valid() {
		return fmt.Errorf("session: invalid month %s", m)
	}
	s.mu.Lock()
	s.current = m
	s.cache.SetCurrent(m)
	s.persist()
	s.mu.Unlock()

	return s.LoadMonth(ctx, m)
}

// LoadMonth displays m from the cache and merges the backend events of m
// into it, once per month.
//
// A month already loaded is only displayed again. A month whose fetch is in
// flight is left alone. When the backend cannot be reached the error is
// returned, the cached content stays on screen and the month is not marked
// loaded, so the next call tries again.
func (s *Session) LoadMonth(ctx context.Context, m calendar.MonthKey) error {
	if s.tracker.IsLoaded(m) {
		s.display(m)
		return nil
	}
	if !s.tracker.TryBeginLoading(m) {
		appLog.Debug("month already loading", "month", m.String())
		return nil
	}
	s.display(m)

	events, err := s.remote.ListEvents(ctx)
	if err != nil {
		s.tracker.EndLoading(m)
		return fmt.Errorf("session: load %s: %w", m, err)
	}

	ops := calendar.Reconcile(s.cache, m, events, calendar.ReconcileOptions{
		BaseURL:  s.baseURL,
		Location: s.loc,
		Now:      s.now,
	})
	if len(ops) > 0 {
		s.persist()
	}
	if m == s.Current() {
		s.apply(ops)
	}
	s.tracker.MarkLoaded(m)

	appLog.Info("month loaded", "month", m.String(), "events", len(events), "inserted", len(ops)/2)
	return nil
}

// Refresh fetches the current month again. Cached content is kept.
func (s *Session) Refresh(ctx context.Context) error {
	m := s.Current()
	s.tracker.Invalidate(m)
	return s.LoadMonth(ctx, m)
}

// View returns the record for id.
func (s *Session) View(id string) (calendar.ContentRecord, error) {
	r, ok := s.cache.Record(id)
	if !ok {
		return calendar.ContentRecord{}, ErrNotFound
	}
	return r, nil
}

// DeleteContent removes id from the cache and the screen. The backend is
// not contacted.
func (s *Session) DeleteContent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, emptied, ok := s.cache.Remove(id)
	if !ok {
		return ErrNotFound
	}
	s.persist()

	if s.current.Contains(day) {
		ops := []calendar.RenderOp{{Kind: calendar.OpRemove, Day: day, ID: id}}
		if emptied {
			ops = append(ops, calendar.RenderOp{Kind: calendar.OpRestorePlaceholder, Day: day})
		}
		s.apply(ops)
	}
	appLog.Info("content deleted", "id", id, "day", day.String())
	return nil
}

func (s *Session) display(m calendar.MonthKey) {
	if m != s.Current() {
		return
	}
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if err := s.renderer.ShowMonth(m); err != nil {
		appLog.Error("render month failed", err, "month", m.String())
		return
	}
	if err := calendar.Apply(s.renderer, s.cache.MonthOps(m)); err != nil {
		appLog.Error("render month content failed", err, "month", m.String())
	}
}

func (s *Session) apply(ops []calendar.RenderOp) {
	if len(ops) == 0 {
		return
	}
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if err := calendar.Apply(s.renderer, ops); err != nil {
		appLog.Error("render failed", err, "ops", len(ops))
	}
}

// persist saves the cache. Store failures are logged; the in-memory cache
// stays authoritative.
func (s *Session) persist() {
	if err := s.store.Save(s.cache); err != nil {
		appLog.Error("session: persist failed", err)
	}
}
