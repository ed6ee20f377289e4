package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"contentcal/internal/model"
)

// ExportOptions control Export.
type ExportOptions struct {
	// Name is the calendar display name.
	Name string
	// Location decides the calendar day of each event. Nil means time.Local.
	Location *time.Location
	// BaseURL is prefixed to relative image paths.
	BaseURL string
	// Host is the right-hand side of generated UIDs.
	Host string
	Now  time.Time
}

// Export writes events as an iCalendar feed. Every event becomes an
// all-day VEVENT on its calendar date in opts.Location; the image, if any,
// is attached as the event URL.
func Export(w io.Writer, events []model.Event, opts ExportOptions) error {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Host == "" {
		opts.Host = "contentcal"
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//contentcal//content calendar//EN")
	if opts.Name != "" {
		cal.SetName(opts.Name)
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(opts.Location.String())

	for _, ev := range events {
		ve := cal.AddEvent(fmt.Sprintf("event-%d@%s", ev.ID, opts.Host))
		ve.SetDtStampTime(opts.Now.UTC())
		if !ev.CreatedAt.IsZero() {
			ve.SetCreatedTime(ev.CreatedAt.UTC())
		}

		local := ev.Date.In(opts.Location)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		ve.SetAllDayStartAt(day)
		ve.SetAllDayEndAt(day.AddDate(0, 0, 1))

		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.ImageURL != "" {
			ve.SetURL(absoluteURL(opts.BaseURL, ev.ImageURL))
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func absoluteURL(base, p string) string {
	if base == "" || strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(base, "/") + p
}
