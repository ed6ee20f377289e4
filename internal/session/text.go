package session

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"contentcal/internal/calendar"
)

// TextRenderer keeps an in-memory month grid and prints it as plain text.
// It is the presentation layer of the command line client.
type TextRenderer struct {
	mu    sync.Mutex
	month calendar.MonthKey
	shown bool
	cells map[calendar.DayKey][]calendar.ContentRecord
	// placeholder marks days showing the "nothing planned" marker.
	placeholder map[calendar.DayKey]bool
}

var _ calendar.Renderer = (*TextRenderer)(nil)

func NewTextRenderer() *TextRenderer {
	return &TextRenderer{
		cells:       make(map[calendar.DayKey][]calendar.ContentRecord),
		placeholder: make(map[calendar.DayKey]bool),
	}
}

func (t *TextRenderer) ShowMonth(m calendar.MonthKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.month = m
	t.shown = true
	clear(t.cells)
	clear(t.placeholder)
	for d := 1; d <= m.Days(); d++ {
		t.placeholder[m.Day(d)] = true
	}
	return nil
}

func (t *TextRenderer) container(d calendar.DayKey) error {
	if !t.shown || !t.month.Contains(d) || !d.Valid() {
		return calendar.ErrNoContainer
	}
	return nil
}

func (t *TextRenderer) Render(d calendar.DayKey, records []calendar.ContentRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.container(d); err != nil {
		return err
	}
	for _, r := range records {
		if slices.ContainsFunc(t.cells[d], func(x calendar.ContentRecord) bool { return x.ID == r.ID }) {
			continue
		}
		t.cells[d] = append(t.cells[d], r)
	}
	if len(t.cells[d]) > 0 {
		t.placeholder[d] = false
	}
	return nil
}

func (t *TextRenderer) Remove(d calendar.DayKey, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.container(d); err != nil {
		return err
	}
	t.cells[d] = slices.DeleteFunc(t.cells[d], func(x calendar.ContentRecord) bool { return x.ID == id })
	return nil
}

func (t *TextRenderer) ClearPlaceholder(d calendar.DayKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.container(d); err != nil {
		return err
	}
	t.placeholder[d] = false
	return nil
}

func (t *TextRenderer) RestorePlaceholderIfEmpty(d calendar.DayKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.container(d); err != nil {
		return err
	}
	if len(t.cells[d]) == 0 {
		t.placeholder[d] = true
	}
	return nil
}

// Day returns what is displayed on d.
func (t *TextRenderer) Day(d calendar.DayKey) []calendar.ContentRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.cells[d])
}

// HasPlaceholder reports whether d shows the empty marker.
func (t *TextRenderer) HasPlaceholder(d calendar.DayKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.placeholder[d]
}

// Print writes the month on screen to w, one line per day. With all set,
// days without content are listed too.
func (t *TextRenderer) Print(w io.Writer, all bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.shown {
		_, err := fmt.Fprintln(w, "(no month shown)")
		return err
	}

	first := time.Date(t.month.Year, time.Month(t.month.Month), 1, 0, 0, 0, 0, time.UTC)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d\n", first.Month(), first.Year())
	for d := 1; d <= t.month.Days(); d++ {
		key := t.month.Day(d)
		day := first.AddDate(0, 0, d-1)
		records := t.cells[key]
		if len(records) == 0 {
			if all {
				fmt.Fprintf(&b, "%s %2d  -\n", day.Weekday().String()[:3], d)
			}
			continue
		}
		for i, r := range records {
			prefix := fmt.Sprintf("%s %2d", day.Weekday().String()[:3], d)
			if i > 0 {
				prefix = strings.Repeat(" ", len(prefix))
			}
			title := r.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(&b, "%s  %s [%s]", prefix, title, r.StatusText)
			if r.Format != "" {
				fmt.Fprintf(&b, " %s", r.Format)
			}
			if n := len(r.Images); n > 0 {
				fmt.Fprintf(&b, " +%d img", n)
			}
			fmt.Fprintf(&b, "  %s\n", r.ID)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
