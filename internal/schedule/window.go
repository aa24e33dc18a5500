package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// Window is a time-of-day range in seconds since midnight, both ends inclusive.
// Start > End means the window wraps past midnight.
type Window struct {
	Start int
	End   int
}

// ParseClock parses "HH:MM" or "HH:MM:SS". An end time without seconds
// covers the whole minute, so "23:59" runs until 23:59:59.
func ParseClock(s string, end bool) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	var vals [3]int
	limits := [3]int{23, 59, 59}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		vals[i] = v
	}
	sec := vals[0]*3600 + vals[1]*60 + vals[2]
	if end && len(parts) == 2 {
		sec += 59
	}
	return sec, nil
}

func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start, false)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end, true)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Overnight reports whether the window wraps past midnight.
func (w Window) Overnight() bool {
	return w.Start > w.End
}

func secondOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

func (w Window) Contains(t time.Time) bool {
	now := secondOfDay(t)
	if w.Overnight() {
		return now >= w.Start || now <= w.End
	}
	return now >= w.Start && now <= w.End
}

// Length is the number of seconds the window covers.
func (w Window) Length() int {
	if w.Overnight() {
		return secondsPerDay - w.Start + w.End + 1
	}
	return w.End - w.Start + 1
}

// weekdayAllowed treats an empty set as every day.
func weekdayAllowed(days []int, wd time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == int(wd) {
			return true
		}
	}
	return false
}
