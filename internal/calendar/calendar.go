// Package calendar provides business-day arithmetic and fiscal-quarter
// window computation. Every function is pure: "now" is always an
// explicit parameter, never read from the system clock.
package calendar

import (
	"fmt"
	"time"
)

// WeeksPerQuarter is the fixed number of weekly buckets a quarter is
// divided into. Quarters always bucket into exactly 13 weeks
// regardless of exact day count; the last bucket absorbs any
// overflow. Historical reports depend on this shape.
const WeeksPerQuarter = 13

// dateOf truncates t to midnight UTC so comparisons ignore
// time-of-day and the source timezone.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BusinessDaysBetween counts weekdays (Mon-Fri) in [start, end).
// Returns 0 if end is on or before start.
func BusinessDaysBetween(start, end time.Time) int {
	s := dateOf(start)
	e := dateOf(end)
	if !e.After(s) {
		return 0
	}

	days := 0
	for d := s; d.Before(e); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}

// BusinessDaysSince counts weekdays from date up to (not including)
// asOf.
func BusinessDaysSince(date, asOf time.Time) int {
	return BusinessDaysBetween(date, asOf)
}

// IsInPast reports whether date falls on a calendar day strictly
// before asOf's day, ignoring time-of-day.
func IsInPast(date, asOf time.Time) bool {
	return dateOf(date).Before(dateOf(asOf))
}

// DaysUntil returns the signed number of calendar days from asOf to
// date: positive for future dates, negative for past ones.
func DaysUntil(date, asOf time.Time) int {
	return int(dateOf(date).Sub(dateOf(asOf)).Hours() / 24)
}

// QuarterWindow is one fiscal quarter. Quarters are fixed 3-month
// calendar blocks (Q1 = Jan-Mar), not business-day-adjusted.
type QuarterWindow struct {
	Year    int       `json:"year"`
	Quarter int       `json:"quarter"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Label   string    `json:"label"`
}

// NewQuarterWindow builds the window for the given year and quarter
// number (1-4). Quarter numbers outside 1-4 are clamped.
func NewQuarterWindow(year, quarter int) QuarterWindow {
	if quarter < 1 {
		quarter = 1
	}
	if quarter > 4 {
		quarter = 4
	}

	startMonth := time.Month((quarter-1)*3 + 1)
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0).AddDate(0, 0, -1)

	return QuarterWindow{
		Year:    year,
		Quarter: quarter,
		Start:   start,
		End:     end,
		Label:   fmt.Sprintf("Q%d %d", quarter, year),
	}
}

// QuarterOf returns the window containing the given date.
func QuarterOf(date time.Time) QuarterWindow {
	d := dateOf(date)
	return NewQuarterWindow(d.Year(), (int(d.Month())-1)/3+1)
}

// Contains reports whether date falls inside the window, inclusive of
// both endpoints, ignoring time-of-day.
func (w QuarterWindow) Contains(date time.Time) bool {
	d := dateOf(date)
	return !d.Before(dateOf(w.Start)) && !d.After(dateOf(w.End))
}

// Progress describes how far through a quarter a date is.
type Progress struct {
	DaysElapsed     int     `json:"days_elapsed"`
	TotalDays       int     `json:"total_days"`
	PercentComplete float64 `json:"percent_complete"`
}

// QuarterProgress computes elapsed/total calendar days for asOf within
// the window, with PercentComplete clamped to [0,100].
func QuarterProgress(w QuarterWindow, asOf time.Time) Progress {
	start := dateOf(w.Start)
	end := dateOf(w.End)
	d := dateOf(asOf)

	total := int(end.Sub(start).Hours()/24) + 1

	elapsed := int(d.Sub(start).Hours()/24) + 1
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}

	pct := float64(elapsed) / float64(total) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	return Progress{
		DaysElapsed:     elapsed,
		TotalDays:       total,
		PercentComplete: pct,
	}
}

// WeekNumberInQuarter maps a date to its 1-based weekly bucket within
// a quarter starting at quarterStart, clamped to [1,13]. Dates past
// week 13 land in the final bucket.
func WeekNumberInQuarter(date, quarterStart time.Time) int {
	days := int(dateOf(date).Sub(dateOf(quarterStart)).Hours() / 24)
	week := days/7 + 1
	if week < 1 {
		return 1
	}
	if week > WeeksPerQuarter {
		return WeeksPerQuarter
	}
	return week
}
