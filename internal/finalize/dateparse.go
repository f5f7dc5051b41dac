package finalize

import (
	"fmt"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWhen resolves a natural-language date to a concrete day,
// relative to now. "next saturday" means the Saturday of next week;
// "this saturday" or a bare weekday means the soonest upcoming one
// (today counts). Absolute dates without a year that have already
// passed roll to the next year.
func ParseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "on ")
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch s {
	case "today", "tonight":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "next week":
		return today.AddDate(0, 0, 7), nil
	case "this weekend", "next weekend":
		d := today
		for d.Weekday() != time.Saturday {
			d = d.AddDate(0, 0, 1)
		}
		if s == "next weekend" && d.Sub(today) < 7*24*time.Hour {
			d = d.AddDate(0, 0, 7)
		}
		return d, nil
	}

	if rest, ok := strings.CutPrefix(s, "next "); ok {
		if wd, ok := weekdays[rest]; ok {
			return nextWeekday(today.AddDate(0, 0, 7), wd), nil
		}
	}
	if rest, ok := strings.CutPrefix(s, "this "); ok {
		if wd, ok := weekdays[rest]; ok {
			return nextWeekday(today, wd), nil
		}
	}
	if wd, ok := weekdays[s]; ok {
		return nextWeekday(today, wd), nil
	}

	// "june 14th" -> "june 14"
	for _, suf := range []string{"st", "nd", "rd", "th"} {
		if strings.HasSuffix(s, suf) && len(s) > 2 && s[len(s)-3] >= '0' && s[len(s)-3] <= '9' {
			s = strings.TrimSuffix(s, suf)
			break
		}
	}

	// Absolute formats, most specific first.
	for _, format := range []string{"2006-01-02", "1/2/2006", "1/2/06", "January 2, 2006", "January 2 2006"} {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	// Year-less formats roll forward if the date already passed.
	for _, format := range []string{"January 2", "Jan 2", "1/2"} {
		if t, err := time.Parse(format, s); err == nil {
			t = time.Date(today.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
			if t.Before(today) {
				t = t.AddDate(1, 0, 0)
			}
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("could not parse date: %s", s)
}

// nextWeekday returns the first day on or after from that falls on wd.
func nextWeekday(from time.Time, wd time.Weekday) time.Time {
	diff := (int(wd) - int(from.Weekday()) + 7) % 7
	return from.AddDate(0, 0, diff)
}
