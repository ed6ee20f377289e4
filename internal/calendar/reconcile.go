package calendar

import (
	"errors"
	"strings"
	"time"

	"contentcal/internal/remote"
)

const (
	backendStatusText  = "From backend"
	backendStatusColor = "#007acc"
	backendFormat      = "Static"
)

// ReconcileOptions tune how backend events are projected.
type ReconcileOptions struct {
	// BaseURL is prefixed to relative image URLs.
	BaseURL string
	// Location is the display time zone used to find an event's calendar
	// day. Nil means time.Local.
	Location *time.Location
	// Now stamps CreatedAt on projected records. Nil means time.Now.
	Now func() time.Time
}

var errNoDate = errors.New("calendar: event has no date")

// EventDay returns the calendar day of a backend date string in loc.
// Date-only values ("2024-03-15") name that day directly; timestamps are
// converted into loc first.
func EventDay(date string, loc *time.Location) (DayKey, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return DayKey{}, errNoDate
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(time.DateOnly, date, loc); err == nil {
		return DayOf(t), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		t, err := time.ParseInLocation(layout, date, loc)
		if err == nil {
			return DayOf(t.In(loc)), nil
		}
	}
	return DayKey{}, errors.New("calendar: unrecognized event date " + date)
}

// RecordFromEvent projects a backend event onto day.
func RecordFromEvent(ev remote.Event, day DayKey, opts ReconcileOptions) ContentRecord {
	r := ContentRecord{
		ID:          BackendID(string(ev.ID)),
		Day:         day,
		Title:       ev.Title,
		StatusText:  backendStatusText,
		StatusColor: backendStatusColor,
		Format:      backendFormat,
		Caption:     ev.Description,
		CreatedAt:   ev.CreatedAt,
		FromBackend: true,
	}
	if r.CreatedAt == "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		r.CreatedAt = now().UTC().Format(time.RFC3339Nano)
	}
	if ev.ImageURL != "" {
		r.Images = []string{joinURL(opts.BaseURL, ev.ImageURL)}
	}
	return r
}

func joinURL(base, p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") || strings.HasPrefix(p, "data:") {
		return p
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}

// Reconcile merges backend events that fall in month into the cache and
// returns the display instructions for the records it inserted.
//
// Events without an id, with a missing or unparseable date, or dated outside
// month are ignored. An event whose id is already cached is skipped and the
// cached record is left as is, so running Reconcile twice with the same
// events inserts nothing the second time.
func Reconcile(c *Cache, month MonthKey, events []remote.Event, opts ReconcileOptions) []RenderOp {
	ops := make([]RenderOp, 0)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		day, err := EventDay(ev.Date, opts.Location)
		if err != nil || !month.Contains(day) {
			continue
		}
		rec, err := c.insertLocked(RecordFromEvent(ev, day, opts))
		if err != nil {
			// ErrDuplicateID: already reconciled or authored locally.
			continue
		}
		ops = append(ops,
			RenderOp{Kind: OpClearPlaceholder, Day: day},
			RenderOp{Kind: OpInsert, Day: day, Record: rec},
		)
	}
	return ops
}
