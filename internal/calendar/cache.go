package calendar

import (
	"errors"
	"slices"
	"sync"
)

// ErrDuplicateID is returned by Insert when the id is already cached.
var ErrDuplicateID = errors.New("calendar: duplicate content id")

// Cache is the local source of truth for calendar content: an ordered list
// of placements per day, the full record for every placed id, and metadata.
//
// Every placed id has a record and every record is placed; mutating methods
// restore this before returning. Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	days    map[DayKey][]Placement
	records map[string]ContentRecord
	order   []string // record ids by insertion, oldest first
	meta    Metadata
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		days:    make(map[DayKey][]Placement),
		records: make(map[string]ContentRecord),
	}
}

// State is a plain copy of a cache's contents, used for persistence.
type State struct {
	Metadata Metadata
	Records  []ContentRecord // insertion order
	Days     map[DayKey][]Placement
}

// State returns a deep copy of the cache contents.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := State{
		Metadata: c.meta,
		Records:  make([]ContentRecord, 0, len(c.order)),
		Days:     make(map[DayKey][]Placement, len(c.days)),
	}
	for _, id := range c.order {
		s.Records = append(s.Records, c.records[id].clone())
	}
	for d, ps := range c.days {
		s.Days[d] = slices.Clone(ps)
	}
	return s
}

// FromState builds a cache from s as-is. Call Normalize to repair state
// read from storage.
func FromState(s State) *Cache {
	c := NewCache()
	c.meta = s.Metadata
	for _, r := range s.Records {
		if _, dup := c.records[r.ID]; dup {
			continue
		}
		c.records[r.ID] = r.clone()
		c.order = append(c.order, r.ID)
	}
	for d, ps := range s.Days {
		c.days[d] = slices.Clone(ps)
	}
	return c
}

// Metadata returns the cache metadata.
func (c *Cache) Metadata() Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta
}

// SetCurrent records m as the last viewed month.
func (c *Cache) SetCurrent(m MonthKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta.CurrentYear = m.Year
	c.meta.CurrentMonth = m.Month - 1
}

// SetLastSave records the time of the last persisted write.
func (c *Cache) SetLastSave(ts string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta.LastSave = ts
}

// NextCounter increments and returns the id counter.
func (c *Cache) NextCounter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta.ContentCounter++
	return c.meta.ContentCounter
}

// Len returns the number of populated days and of records.
func (c *Cache) Len() (days, records int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.days), len(c.records)
}

// Days returns all populated days in ascending order.
func (c *Cache) Days() []DayKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedDays(c.days)
}

func sortedDays(m map[DayKey][]Placement) []DayKey {
	keys := make([]DayKey, 0, len(m))
	for d := range m {
		keys = append(keys, d)
	}
	slices.SortFunc(keys, DayKey.Compare)
	return keys
}

// Placements returns the ordered placements of d.
func (c *Cache) Placements(d DayKey) []Placement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.days[d])
}

// Records returns the records placed on d, in placement order, with Markup
// taken from the placement.
func (c *Cache) Records(d DayKey) []ContentRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recordsLocked(d)
}

func (c *Cache) recordsLocked(d DayKey) []ContentRecord {
	ps := c.days[d]
	out := make([]ContentRecord, 0, len(ps))
	for _, p := range ps {
		r, ok := c.records[p.ID]
		if !ok {
			continue
		}
		r = r.clone()
		r.Markup = p.HTML
		out = append(out, r)
	}
	return out
}

// Record returns the record for id.
func (c *Cache) Record(id string) (ContentRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return ContentRecord{}, false
	}
	r = r.clone()
	for _, p := range c.days[r.Day] {
		if p.ID == id {
			r.Markup = p.HTML
			break
		}
	}
	return r, true
}

// Contains reports whether id is placed on d.
func (c *Cache) Contains(d DayKey, id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return containsID(c.days[d], id)
}

func containsID(ps []Placement, id string) bool {
	return slices.ContainsFunc(ps, func(p Placement) bool { return p.ID == id })
}

// Insert places r on r.Day and stores its record. A given r.Markup is
// repaired like stored markup; it is rendered when empty or unusable. It returns ErrDuplicateID if the id is already cached;
// existing entries are never overwritten.
func (c *Cache) Insert(r ContentRecord) (ContentRecord, error) {
	if r.ID == "" {
		return ContentRecord{}, errors.New("calendar: content id is empty")
	}
	if !r.Day.Valid() {
		return ContentRecord{}, errors.New("calendar: content day is not a calendar date")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(r)
}

func (c *Cache) insertLocked(r ContentRecord) (ContentRecord, error) {
	if _, exists := c.records[r.ID]; exists || containsID(c.days[r.Day], r.ID) {
		return ContentRecord{}, ErrDuplicateID
	}
	r = r.clone()
	if r.Markup != "" {
		html, _, ok := NormalizeMarkup(r.Markup, r.ID)
		if ok {
			r.Markup = html
		} else {
			r.Markup = ""
		}
	}
	if r.Markup == "" {
		r.Markup = RenderMarkup(r)
	}
	c.days[r.Day] = append(c.days[r.Day], Placement{ID: r.ID, HTML: r.Markup})

	stored := r
	stored.Markup = ""
	c.records[r.ID] = stored
	c.order = append(c.order, r.ID)
	return r, nil
}

// Remove deletes id from its day and drops its record. It returns the day
// the record was on and whether that day is now empty.
func (c *Cache) Remove(id string) (day DayKey, emptied, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	day, found := c.findDayLocked(id)
	if !found {
		if _, has := c.records[id]; !has {
			return DayKey{}, false, false
		}
		day = c.records[id].Day
	}

	if ps, has := c.days[day]; has {
		ps = slices.DeleteFunc(ps, func(p Placement) bool { return p.ID == id })
		if len(ps) == 0 {
			delete(c.days, day)
			emptied = true
		} else {
			c.days[day] = ps
		}
	} else {
		emptied = true
	}
	c.dropRecordLocked(id)
	return day, emptied, true
}

func (c *Cache) findDayLocked(id string) (DayKey, bool) {
	if r, ok := c.records[id]; ok && containsID(c.days[r.Day], id) {
		return r.Day, true
	}
	for d, ps := range c.days {
		if containsID(ps, id) {
			return d, true
		}
	}
	return DayKey{}, false
}

func (c *Cache) dropRecordLocked(id string) {
	if _, ok := c.records[id]; !ok {
		return
	}
	delete(c.records, id)
	c.order = slices.DeleteFunc(c.order, func(o string) bool { return o == id })
}

// MonthOps returns the instructions that display every cached record of m:
// placeholders are cleared on populated days and restored on empty ones.
func (c *Cache) MonthOps(m MonthKey) []RenderOp {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make([]RenderOp, 0)
	for day := 1; day <= m.Days(); day++ {
		d := m.Day(day)
		records := c.recordsLocked(d)
		if len(records) == 0 {
			ops = append(ops, RenderOp{Kind: OpRestorePlaceholder, Day: d})
			continue
		}
		ops = append(ops, RenderOp{Kind: OpClearPlaceholder, Day: d})
		for _, r := range records {
			ops = append(ops, RenderOp{Kind: OpInsert, Day: d, Record: r})
		}
	}
	return ops
}

// Normalize repairs state read from storage:
//   - placements without id, duplicate ids within a day and fragments that
//     cannot be parsed are dropped;
//   - fragments are rewritten so the root is one content-box carrying the
//     placement id, with nested boxes unwrapped and onclick removed;
//   - empty days are dropped;
//   - placements whose record is missing are dropped, and records that
//     know their day but have no placement are placed again.
//
// It reports whether anything changed.
func (c *Cache) Normalize() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	placed := make(map[string]struct{})

	for _, d := range sortedDays(c.days) {
		entries := c.days[d]
		kept := make([]Placement, 0, len(entries))
		for _, p := range entries {
			if p.ID == "" {
				changed = true
				continue
			}
			if _, dup := placed[p.ID]; dup {
				changed = true
				continue
			}
			rec, hasRecord := c.records[p.ID]
			if !hasRecord {
				changed = true
				continue
			}
			html, fixed, ok := NormalizeMarkup(p.HTML, p.ID)
			if !ok {
				changed = true
				continue
			}
			if fixed {
				changed = true
			}
			if rec.Day != d {
				rec.Day = d
				c.records[p.ID] = rec
				changed = true
			}
			kept = append(kept, Placement{ID: p.ID, HTML: html})
			placed[p.ID] = struct{}{}
		}
		if len(kept) == 0 {
			delete(c.days, d)
			changed = true
			continue
		}
		c.days[d] = kept
	}

	for _, id := range slices.Clone(c.order) {
		if _, ok := placed[id]; ok {
			continue
		}
		rec := c.records[id]
		if !rec.Day.Valid() {
			c.dropRecordLocked(id)
			changed = true
			continue
		}
		c.days[rec.Day] = append(c.days[rec.Day], Placement{ID: id, HTML: RenderMarkup(rec)})
		changed = true
	}
	return changed
}
