package calendar

import "slices"

// PruneLimits bounds the cache when storage runs out of room.
type PruneLimits struct {
	// MaxDays is the number of populated days above which the cache is cut
	// down to the KeepDays most recent ones.
	MaxDays  int
	KeepDays int
	// MaxDetails is the number of records above which only the KeepDetails
	// most recently inserted ones are kept.
	MaxDetails  int
	KeepDetails int
	// MaxImages caps the images kept per record.
	MaxImages int
}

// DefaultPruneLimits matches the limits the client has always applied.
var DefaultPruneLimits = PruneLimits{
	MaxDays:     20,
	KeepDays:    15,
	MaxDetails:  200,
	KeepDetails: 150,
	MaxImages:   5,
}

// Prune shrinks the cache to fit limits. Days are ranked by calendar date,
// records by insertion order. Images that are neither http(s) nor
// data:image URIs are dropped, inline images are dropped from records that
// also reference a backend image, and at most MaxImages are kept. Records
// left without a placement, and placements left without a record, are
// removed. It reports whether anything changed.
func (c *Cache) Prune(limits PruneLimits) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false

	if limits.MaxDays > 0 && len(c.days) > limits.MaxDays {
		days := sortedDays(c.days)
		drop := days[:len(days)-min(limits.KeepDays, len(days))]
		for _, d := range drop {
			for _, p := range c.days[d] {
				c.dropRecordLocked(p.ID)
			}
			delete(c.days, d)
		}
		changed = true
	}

	if limits.MaxDetails > 0 && len(c.order) > limits.MaxDetails {
		cut := len(c.order) - min(limits.KeepDetails, len(c.order))
		for _, id := range slices.Clone(c.order[:cut]) {
			c.dropPlacementLocked(id)
			c.dropRecordLocked(id)
		}
		changed = true
	}

	for _, id := range c.order {
		r := c.records[id]
		imgs := pruneImages(r.Images, limits.MaxImages)
		if slices.Equal(imgs, r.Images) {
			continue
		}
		r.Images = imgs
		c.records[id] = r
		c.replaceMarkupLocked(r)
		changed = true
	}

	return changed
}

func pruneImages(images []string, limit int) []string {
	hasRemote := slices.ContainsFunc(images, isRemoteImage)
	out := make([]string, 0, len(images))
	for _, img := range images {
		switch {
		case isRemoteImage(img):
		case isInlineImage(img) && !hasRemote:
		default:
			continue
		}
		out = append(out, img)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if len(out) == 0 && images == nil {
		return nil
	}
	return out
}

func (c *Cache) dropPlacementLocked(id string) {
	d, ok := c.findDayLocked(id)
	if !ok {
		return
	}
	ps := slices.DeleteFunc(c.days[d], func(p Placement) bool { return p.ID == id })
	if len(ps) == 0 {
		delete(c.days, d)
		return
	}
	c.days[d] = ps
}

func (c *Cache) replaceMarkupLocked(r ContentRecord) {
	ps := c.days[r.Day]
	for i := range ps {
		if ps[i].ID == r.ID {
			ps[i].HTML = RenderMarkup(r)
			return
		}
	}
}
