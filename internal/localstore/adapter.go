// Package localstore persists the calendar cache into a single storage slot
// and recovers it on startup.
package localstore

import (
	"errors"
	"fmt"
	"time"

	"contentcal/internal/calendar"
	appLog "contentcal/internal/log"
)

// Adapter is the Local Store Adapter: it serializes a calendar.Cache into a
// Slot and back.
type Adapter struct {
	slot   Slot
	limits calendar.PruneLimits
	now    func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPruneLimits overrides calendar.DefaultPruneLimits.
func WithPruneLimits(l calendar.PruneLimits) Option {
	return func(a *Adapter) { a.limits = l }
}

// WithClock overrides time.Now for lastSave stamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func New(slot Slot, opts ...Option) *Adapter {
	a := &Adapter{
		slot:   slot,
		limits: calendar.DefaultPruneLimits,
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Save writes the cache to the slot.
//
// When the slot is full the cache is pruned in memory and written again.
// If that still does not fit, a reduced document without day placements is
// written; records keep their day so Load can place them again. Running out
// of space is not reported as an error. Other write errors are.
func (a *Adapter) Save(c *calendar.Cache) error {
	c.SetLastSave(a.now().UTC().Format(time.RFC3339Nano))

	err := a.write(c, false)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		appLog.Error("local store save failed", err)
		return err
	}

	appLog.Info("local store quota exceeded; pruning cache")
	if c.Prune(a.limits) {
		days, records := c.Len()
		appLog.Debug("local store pruned", "days", days, "records", records)
	}
	err = a.write(c, false)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		appLog.Error("local store save failed after prune", err)
		return err
	}

	appLog.Info("local store still full; writing reduced document")
	if err := a.write(c, true); err != nil {
		appLog.Error("local store reduced save failed; giving up", err)
		if !errors.Is(err, ErrQuotaExceeded) {
			return err
		}
	}
	return nil
}

func (a *Adapter) write(c *calendar.Cache, reduced bool) error {
	data, err := encode(c.State(), reduced)
	if err != nil {
		return fmt.Errorf("localstore: encode: %w", err)
	}
	return a.slot.Write(data)
}

// Load reads the slot and returns the normalized cache. A missing or
// unparseable document yields an empty cache. If normalization changed
// anything the repaired cache is saved back.
//
// The error is non-nil only when the slot could not be read; the returned
// cache is usable either way.
func (a *Adapter) Load() (*calendar.Cache, error) {
	data, err := a.slot.Read()
	if err != nil {
		appLog.Error("local store read failed; starting empty", err)
		return calendar.NewCache(), err
	}
	if len(data) == 0 {
		return calendar.NewCache(), nil
	}

	state, skipped, err := decode(data)
	if err != nil {
		appLog.Error("local store document malformed; starting empty", err, "bytes", len(data))
		return calendar.NewCache(), nil
	}

	c := calendar.FromState(state)
	changed := c.Normalize()
	if changed || skipped > 0 {
		days, records := c.Len()
		appLog.Info("local store normalized", "days", days, "records", records, "skipped", skipped)
		if err := a.Save(c); err != nil {
			appLog.Error("local store save after normalize failed", err)
		}
	}
	return c, nil
}
