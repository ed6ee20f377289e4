package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "contentcal/internal/log"
)

const defaultMaxPerEvent = 5000

// Occurrence is one concrete instance of an event, in the display zone.
type Occurrence struct {
	UID string
	// InstanceKey tells instances of one series apart.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool
	Start  time.Time
	End    time.Time
}

// ExpandConfig bounds an expansion.
type ExpandConfig struct {
	// Location is the display zone. Nil means time.Local.
	Location *time.Location
	From     time.Time
	To       time.Time
	// MaxPerEvent caps the instances of one series. Zero means 5000.
	MaxPerEvent int
}

// Expand turns parsed events into the occurrences that start within
// [From, To], sorted by start. RRULE series are expanded with EXDATE
// removed and RECURRENCE-ID overrides applied.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.To.Before(cfg.From) {
		return nil, errors.New("ics: expand range ends before it starts")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxPerEvent <= 0 {
		cfg.MaxPerEvent = defaultMaxPerEvent
	}

	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	out := make([]Occurrence, 0)
	for _, ev := range events {
		if ev.IsOverride() {
			continue
		}
		if ev.RawRRule == "" {
			if inRange(ev.Start, cfg) {
				out = append(out, occurrence(ev, ev.Start, ev.End, cfg.Location))
			}
			continue
		}
		out = append(out, expandSeries(ev, overrides[ev.UID], cfg)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func expandSeries(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []Occurrence {
	rule, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics rrule rejected", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(cfg.From.In(loc), cfg.To.In(loc), true)
	if len(starts) > cfg.MaxPerEvent {
		appLog.Error("ics series truncated", errors.New("too many occurrences"), "uid", ev.UID, "cap", cfg.MaxPerEvent)
		starts = starts[:cfg.MaxPerEvent]
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		inst, start, end := ev, s, s.Add(dur)
		for _, o := range overrides {
			if o.RecurrenceID.In(loc).Equal(s) {
				inst, start, end = o, o.Start, o.End
				break
			}
		}
		o := occurrence(inst, start, end, cfg.Location)
		o.InstanceKey = s.In(cfg.Location).Format(time.RFC3339)
		out = append(out, o)
	}
	return out
}

func inRange(t time.Time, cfg ExpandConfig) bool {
	return !t.Before(cfg.From) && !t.After(cfg.To)
}

func occurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) Occurrence {
	o := Occurrence{
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start.In(loc),
		End:         end.In(loc),
	}
	if ev.AllDay {
		// All-day values keep their calendar date whatever the zone.
		o.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		o.End = o.Start.AddDate(0, 0, max(1, int(end.Sub(start).Hours()/24)))
	}
	o.InstanceKey = o.Start.Format(time.RFC3339)
	return o
}
