package calendar

import "errors"

// ErrNoContainer is returned by a Renderer when the day it was asked to
// update is not on screen. Apply ignores it.
var ErrNoContainer = errors.New("calendar: no container for day")

// OpKind selects what a RenderOp does.
type OpKind int

const (
	OpInsert OpKind = iota
	OpRemove
	OpClearPlaceholder
	OpRestorePlaceholder
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpClearPlaceholder:
		return "clear-placeholder"
	case OpRestorePlaceholder:
		return "restore-placeholder"
	default:
		return "unknown"
	}
}

// RenderOp is one display instruction produced by the core.
type RenderOp struct {
	Kind OpKind
	Day  DayKey
	// Record is set for OpInsert.
	Record ContentRecord
	// ID is set for OpRemove.
	ID string
}

// Renderer is the presentation layer the core drives. It owns layout; the
// core only tells it what changed.
type Renderer interface {
	// ShowMonth lays out the grid for m, with empty day containers.
	ShowMonth(m MonthKey) error
	// Render appends records to the day's container.
	Render(day DayKey, records []ContentRecord) error
	Remove(day DayKey, id string) error
	ClearPlaceholder(day DayKey) error
	// RestorePlaceholderIfEmpty shows the "no content" marker when the
	// day's container holds no record.
	RestorePlaceholderIfEmpty(day DayKey) error
}

// Apply hands ops to r in order. Consecutive inserts for the same day are
// rendered in one call. ErrNoContainer is skipped; other errors are joined.
func Apply(r Renderer, ops []RenderOp) error {
	var errs []error
	keep := func(err error) {
		if err != nil && !errors.Is(err, ErrNoContainer) {
			errs = append(errs, err)
		}
	}

	for i := 0; i < len(ops); i++ {
		op := ops[i]
		switch op.Kind {
		case OpInsert:
			batch := []ContentRecord{op.Record}
			for i+1 < len(ops) && ops[i+1].Kind == OpInsert && ops[i+1].Day == op.Day {
				i++
				batch = append(batch, ops[i].Record)
			}
			keep(r.Render(op.Day, batch))
		case OpRemove:
			keep(r.Remove(op.Day, op.ID))
		case OpClearPlaceholder:
			keep(r.ClearPlaceholder(op.Day))
		case OpRestorePlaceholder:
			keep(r.RestorePlaceholderIfEmpty(op.Day))
		}
	}
	return errors.Join(errs...)
}
