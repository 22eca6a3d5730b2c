package learning

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a five-field cron line (minute hour day-of-month month
// day-of-week) supporting numbers, comma lists, and '*'. That covers the
// shapes this job is configured with; anything fancier is rejected up front.
type Schedule struct {
	minutes map[int]bool
	hours   map[int]bool
	doms    map[int]bool // nil = '*'
	months  map[int]bool // nil = '*'
	dows    map[int]bool // nil = '*'; 0 = Sunday
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}

	minutes, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("cron minute: %w", err)
	}
	hours, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("cron hour: %w", err)
	}
	doms, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("cron day-of-month: %w", err)
	}
	months, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("cron month: %w", err)
	}
	dows, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("cron day-of-week: %w", err)
	}

	if minutes == nil {
		return nil, fmt.Errorf("cron %q: minute field must be pinned", expr)
	}
	if hours == nil {
		return nil, fmt.Errorf("cron %q: hour field must be pinned", expr)
	}

	return &Schedule{
		minutes: minutes,
		hours:   hours,
		doms:    doms,
		months:  months,
		dows:    dows,
	}, nil
}

// parseCronField returns nil for '*', otherwise the allowed value set.
func parseCronField(field string, min, max int) (map[int]bool, error) {
	if field == "*" {
		return nil, nil
	}
	values := map[int]bool{}
	for _, part := range strings.Split(field, ",") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a number", part)
		}
		if n < min || n > max {
			return nil, fmt.Errorf("value %d outside [%d, %d]", n, min, max)
		}
		values[n] = true
	}
	return values, nil
}

// Next returns the first matching time strictly after t, in t's location.
func (s *Schedule) Next(t time.Time) time.Time {
	// Minute-step scan; the search space is tiny and the job fires at most
	// daily, so this stays simple instead of clever.
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate
		}
		candidate = candidate.Add(time.Minute)
	}
	return candidate
}

func (s *Schedule) matches(t time.Time) bool {
	if !s.minutes[t.Minute()] || !s.hours[t.Hour()] {
		return false
	}
	if s.months != nil && !s.months[int(t.Month())] {
		return false
	}
	// Standard cron: when both day fields are restricted, either may match.
	domOK := s.doms == nil || s.doms[t.Day()]
	dowOK := s.dows == nil || s.dows[int(t.Weekday())]
	if s.doms != nil && s.dows != nil {
		return domOK || dowOK
	}
	return domOK && dowOK
}
