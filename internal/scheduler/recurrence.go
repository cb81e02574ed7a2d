package scheduler

import (
	"time"
)

// Recurrence fires on the given weekdays at a fixed wall-clock time in Location.
type Recurrence struct {
	Weekdays    []time.Weekday
	MinuteOfDay int
	Location    *time.Location
	// Until bounds the recurrence; the zero value means forever.
	Until time.Time
}

// Next returns the first occurrence strictly after t, or false if the
// recurrence has ended.
func (r Recurrence) Next(t time.Time) (time.Time, bool) {
	if len(r.Weekdays) == 0 {
		return time.Time{}, false
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	days := make(map[time.Weekday]bool, len(r.Weekdays))
	for _, d := range r.Weekdays {
		days[d] = true
	}

	local := t.In(loc)
	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, offset)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), r.MinuteOfDay/60, r.MinuteOfDay%60, 0, 0, loc)
		if !candidate.After(t) || !days[candidate.Weekday()] {
			continue
		}
		if !r.Until.IsZero() && candidate.After(r.Until) {
			return time.Time{}, false
		}
		return candidate.UTC(), true
	}
	return time.Time{}, false
}
