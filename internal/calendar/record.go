// Package calendar holds the local content cache of the calendar client and
// the logic that keeps it consistent: day/month keys, content records, the
// month load tracker, reconciliation of backend events and the render
// instructions handed to a presentation layer.
package calendar

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const (
	localIDPrefix   = "content_"
	backendIDPrefix = "backend_"
)

// ContentRecord is one calendar entry for a single day, authored locally or
// projected from a backend event.
type ContentRecord struct {
	ID          string
	Day         DayKey
	Title       string
	StatusText  string
	StatusColor string
	Format      string
	Caption     string
	Images      []string // absolute backend URLs or data: URIs
	CreatedAt   string
	FromBackend bool

	// Markup is the cached HTML fragment for the record. Its root element
	// carries data-content-id == ID.
	Markup string
}

// Placement is one entry of a day's ordered list.
type Placement struct {
	ID   string
	HTML string
}

// Metadata is stored alongside the cache. CurrentMonth is 0-indexed, as
// persisted by earlier versions of the client.
type Metadata struct {
	ContentCounter int
	CurrentMonth   int
	CurrentYear    int
	LastSave       string
}

// Current returns the last viewed month, or false if none was recorded.
func (m Metadata) Current() (MonthKey, bool) {
	if m.CurrentYear == 0 {
		return MonthKey{}, false
	}
	mk := MonthKey{Year: m.CurrentYear, Month: m.CurrentMonth + 1}
	if !mk.Valid() {
		return MonthKey{}, false
	}
	return mk, true
}

// BackendID returns the deterministic local id for a backend event id.
func BackendID(remoteID string) string {
	return backendIDPrefix + remoteID
}

// IsBackendID reports whether id was derived from a backend event.
func IsBackendID(id string) bool {
	return strings.HasPrefix(id, backendIDPrefix)
}

// NewLocalID builds a locally unique id from the current time, the cache
// counter and 9 random base36 characters.
func NewLocalID(now time.Time, counter int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	var suffix [9]byte
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("%s%s_%d_%s", localIDPrefix, strconv.FormatInt(now.UnixMilli(), 10), counter, suffix[:])
}

func (r ContentRecord) clone() ContentRecord {
	r.Images = append([]string(nil), r.Images...)
	return r
}
