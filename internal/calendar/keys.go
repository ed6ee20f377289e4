package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MonthKey identifies one calendar page. Month is 1-indexed.
type MonthKey struct {
	Year  int
	Month int
}

// MonthOf returns the month containing t, in t's location.
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: int(t.Month())}
}

// String returns "Y-M" without zero padding.
func (m MonthKey) String() string {
	return strconv.Itoa(m.Year) + "-" + strconv.Itoa(m.Month)
}

// Valid reports whether Month is within 1..12.
func (m MonthKey) Valid() bool {
	return m.Month >= 1 && m.Month <= 12
}

// Add returns the month delta months away, normalizing year overflow.
func (m MonthKey) Add(delta int) MonthKey {
	t := time.Date(m.Year, time.Month(m.Month)+time.Month(delta), 1, 0, 0, 0, 0, time.UTC)
	return MonthOf(t)
}

// Days returns the number of days in the month.
func (m MonthKey) Days() int {
	return time.Date(m.Year, time.Month(m.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Day returns the DayKey for day d of this month.
func (m MonthKey) Day(d int) DayKey {
	return DayKey{Year: m.Year, Month: m.Month, Day: d}
}

// Contains reports whether d falls in this month.
func (m MonthKey) Contains(d DayKey) bool {
	return d.Year == m.Year && d.Month == m.Month
}

// DayKey identifies one calendar cell. Month is 1-indexed.
type DayKey struct {
	Year  int
	Month int
	Day   int
}

// DayOf returns the calendar day of t, in t's location.
func DayOf(t time.Time) DayKey {
	return DayKey{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// ParseDayKey parses the "Y-M-D" form produced by String. Zero padding is
// accepted but not required.
func ParseDayKey(s string) (DayKey, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return DayKey{}, fmt.Errorf("calendar: malformed day key %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return DayKey{}, fmt.Errorf("calendar: malformed day key %q: %w", s, err)
		}
		nums[i] = n
	}
	d := DayKey{Year: nums[0], Month: nums[1], Day: nums[2]}
	if !d.Valid() {
		return DayKey{}, fmt.Errorf("calendar: day key %q is not a calendar date", s)
	}
	return d, nil
}

// String returns "Y-M-D" without zero padding, the persisted key format.
func (d DayKey) String() string {
	return strconv.Itoa(d.Year) + "-" + strconv.Itoa(d.Month) + "-" + strconv.Itoa(d.Day)
}

// MonthKey returns the month containing d.
func (d DayKey) MonthKey() MonthKey {
	return MonthKey{Year: d.Year, Month: d.Month}
}

// Valid reports whether d names an existing calendar date.
func (d DayKey) Valid() bool {
	if d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	return d.Day <= d.MonthKey().Days()
}

// IsZero reports whether d is the zero value.
func (d DayKey) IsZero() bool {
	return d == DayKey{}
}

// Time returns local midnight of d in loc.
func (d DayKey) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, loc)
}

// Compare orders day keys as (year, month, day) tuples.
func (d DayKey) Compare(o DayKey) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(d.Month, o.Month)
	default:
		return cmpInt(d.Day, o.Day)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
