// Package worktime measures elapsed working time under a weekly UTC schedule.
package worktime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a daily working window applied to a set of weekdays, always in UTC.
type Schedule struct {
	days  [7]bool
	start time.Duration // offset from midnight
	end   time.Duration
}

// Default is Monday through Friday, 09:00 to 17:00 UTC.
var Default = mustSchedule("09:00", "17:00", "mon", "tue", "wed", "thu", "fri")

func mustSchedule(start, end string, days ...string) Schedule {
	s, err := ParseSchedule(start, end, days)
	if err != nil {
		panic(err)
	}
	return s
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseSchedule builds a schedule from HH:mm clock times and weekday names ("mon", "Tuesday", ...).
// The end must be after the start, and at least one day is required.
func ParseSchedule(start, end string, days []string) (Schedule, error) {
	var s Schedule
	var err error
	if s.start, err = parseClock(start); err != nil {
		return Schedule{}, fmt.Errorf("start: %w", err)
	}
	if s.end, err = parseClock(end); err != nil {
		return Schedule{}, fmt.Errorf("end: %w", err)
	}
	if s.end <= s.start {
		return Schedule{}, fmt.Errorf("end %s is not after start %s", end, start)
	}
	for _, d := range days {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return Schedule{}, fmt.Errorf("unknown weekday %q", d)
		}
		s.days[wd] = true
	}
	if s.days == [7]bool{} {
		return Schedule{}, fmt.Errorf("no working days")
	}
	return s, nil
}

// parseClock accepts HH:mm between 00:00 and 23:59.
func parseClock(v string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid clock time %q: want HH:mm", v)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q: want 00:00-23:59", v)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// IsZero reports whether s is the unconfigured zero value.
func (s Schedule) IsZero() bool {
	return s == Schedule{}
}

// Works reports whether wd is a working day.
func (s Schedule) Works(wd time.Weekday) bool {
	return s.days[wd]
}

// Duration returns the working time between start and end. Zero-valued or
// reversed intervals yield 0.
func (s Schedule) Duration(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return 0
	}
	start, end = start.UTC(), end.UTC()

	var total time.Duration
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for !day.After(end) {
		if s.days[day.Weekday()] {
			open := maxTime(day.Add(s.start), start)
			closeAt := minTime(day.Add(s.end), end)
			if closeAt.After(open) {
				total += closeAt.Sub(open)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
