// Package civil converts between wall-clock times in a named zone and absolute instants.
//
// Conversions never assume a fixed UTC offset: the offset is rediscovered for every value so
// that operator-entered pickup times stay correct across daylight-saving transitions.
package civil

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultZone is the zone every roster day is keyed by.
const DefaultZone = "America/New_York"

// DateLayout is the roster_date wire format.
const DateLayout = "2006-01-02"

const maxResolveSteps = 3

// DateTime is a wall-clock reading without an offset.
type DateTime struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// String renders the value as YYYY-MM-DDTHH:MM:SS.
func (d DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", d.Year, int(d.Month), d.Day, d.Hour, d.Minute, d.Second)
}

// Date returns the YYYY-MM-DD part.
func (d DateTime) Date() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// asUTC places the wall-clock fields on the UTC line so two readings can be subtracted.
func (d DateTime) asUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second, 0, time.UTC)
}

// LoadZone resolves a zone name, falling back to DefaultZone when empty.
func LoadZone(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load zone %s: %w", name, err)
	}
	return loc, nil
}

// FromInstant renders an instant as wall-clock fields in loc.
func FromInstant(t time.Time, loc *time.Location) DateTime {
	local := t.In(loc)
	return DateTime{
		Year:   local.Year(),
		Month:  local.Month(),
		Day:    local.Day(),
		Hour:   local.Hour(),
		Minute: local.Minute(),
		Second: local.Second(),
	}
}

// ToInstant finds the instant whose wall clock in loc reads d.
//
// The first guess reads d as UTC. Each step renders the guess back into loc and shifts it by
// the difference between the wanted and rendered wall clocks. Offsets are piecewise constant,
// so at most one discontinuity has to be crossed; the loop is capped at three steps. Readings
// inside a spring-forward gap resolve deterministically to the post-transition side, and
// ambiguous fall-back readings resolve to the first occurrence.
func ToInstant(d DateTime, loc *time.Location) time.Time {
	want := d.asUTC()
	guess := want
	for i := 0; i < maxResolveSteps; i++ {
		delta := want.Sub(FromInstant(guess, loc).asUTC())
		if delta == 0 {
			break
		}
		guess = guess.Add(delta)
	}
	return guess.UTC()
}

// RosterDate returns the civil date of now in loc. All clients key "today" by this value.
func RosterDate(now time.Time, loc *time.Location) string {
	return FromInstant(now, loc).Date()
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var timeOnlyLayouts = []string{
	"15:04:05",
	"15:04",
}

// Parse reads an operator-entered wall-clock value. A bare time of day is placed on rosterDate.
// The parsed fields are taken verbatim; no zone is applied here.
func Parse(raw string, rosterDate string) (DateTime, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return DateTime{}, fmt.Errorf("empty civil time")
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return fields(t), nil
		}
	}
	for _, layout := range timeOnlyLayouts {
		clock, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		day, err := time.Parse(DateLayout, rosterDate)
		if err != nil {
			return DateTime{}, fmt.Errorf("invalid roster date %q: %w", rosterDate, err)
		}
		return DateTime{
			Year:   day.Year(),
			Month:  day.Month(),
			Day:    day.Day(),
			Hour:   clock.Hour(),
			Minute: clock.Minute(),
			Second: clock.Second(),
		}, nil
	}
	return DateTime{}, fmt.Errorf("unrecognised civil time %q", raw)
}

func fields(t time.Time) DateTime {
	return DateTime{
		Year:   t.Year(),
		Month:  t.Month(),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}
