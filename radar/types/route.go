package types

import (
	"fmt"
	"regexp"
	"time"
)

var airportCodeRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidAirportCode reports whether s is a well-formed IATA-style airport
// code (three uppercase letters).
func ValidAirportCode(s string) bool {
	return airportCodeRegex.MatchString(s)
}

// RouteKey identifies a baseline bucket: one directed route, cabin and
// departure month.
type RouteKey struct {
	Origin      string
	Destination string
	Cabin       Cabin
	DepartMonth time.Time // first day of the month, UTC
}

// String implements the Stringer interface and defines the canonical log
// representation of a route bucket, ex. "JFK-MIA economy 2026-03".
func (k RouteKey) String() string {
	return fmt.Sprintf("%s-%s %s %s", k.Origin, k.Destination, k.Cabin, k.DepartMonth.Format("2006-01"))
}

// Window is an inclusive calendar-date span used for fare searches.
type Window struct {
	Start time.Time
	End   time.Time
}

// Search is a single fare search: one directed route over one departure
// window.
type Search struct {
	Origin      string
	Destination string
	Window      Window
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart truncates t to the first day of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthWindow returns the calendar span of the month containing t. The
// start is clamped to t's own date so windows never begin in the past.
func MonthWindow(t time.Time) Window {
	start := MonthStart(t)
	end := start.AddDate(0, 1, -1)
	if date := DateOf(t); date.After(start) {
		start = date
	}
	return Window{Start: start, End: end}
}

// NextDepartMonth resolves a bare month number (1-12) to its next future
// occurrence relative to now: this year when the month has not passed yet,
// otherwise next year.
func NextDepartMonth(now time.Time, month time.Month) time.Time {
	now = now.UTC()
	year := now.Year()
	if month < now.Month() {
		year++
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}
