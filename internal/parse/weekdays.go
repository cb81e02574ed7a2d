package parse

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Weekdays parses a comma separated list such as "mon,wed,fri".
// Full names ("monday") are accepted too.
func Weekdays(s string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if len(name) > 3 {
			name = name[:3]
		}
		d, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", strings.TrimSpace(part))
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no weekdays in %q", s)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

// FormatWeekdays is the inverse of Weekdays.
func FormatWeekdays(days []time.Weekday) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, strings.ToLower(d.String()[:3]))
	}
	return strings.Join(names, ",")
}

// MinuteOfDay parses "HH:MM" into minutes after midnight.
func MinuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
