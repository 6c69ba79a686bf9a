// Package calendar holds the pure date arithmetic the scheduling core is
// built on: slot enumeration, whole-calendar-month differences, and age
// calculation. Everything here is a deterministic function of its inputs.
package calendar

import (
	"fmt"
	"time"
)

const ClockFormat = "15:04"

// Slot is a bookable time unit at a blood bank: the wall-clock label plus the
// full timestamp on the requested day.
type Slot struct {
	TimeOfDay string
	At        time.Time
}

// EnumerateSlots lists candidate slot starts on the given day between
// startClock and endClock ("15:04" wall-clock strings), spaced by step. A slot
// is emitted only if the whole step still fits before endClock, so a
// 09:00-17:00 window with a 30 minute step yields 09:00 through 16:30.
func EnumerateSlots(day time.Time, startClock, endClock string, step time.Duration) ([]Slot, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %s", step)
	}
	start, err := time.Parse(ClockFormat, startClock)
	if err != nil {
		return nil, fmt.Errorf("invalid start clock %q: %w", startClock, err)
	}
	end, err := time.Parse(ClockFormat, endClock)
	if err != nil {
		return nil, fmt.Errorf("invalid end clock %q: %w", endClock, err)
	}

	windowStart := time.Date(day.Year(), day.Month(), day.Day(), start.Hour(), start.Minute(), 0, 0, day.Location())
	windowEnd := time.Date(day.Year(), day.Month(), day.Day(), end.Hour(), end.Minute(), 0, 0, day.Location())
	if !windowEnd.After(windowStart) {
		return nil, nil
	}

	var slots []Slot
	for t := windowStart; !t.Add(step).After(windowEnd); t = t.Add(step) {
		slots = append(slots, Slot{
			TimeOfDay: t.Format(ClockFormat),
			At:        t,
		})
	}
	return slots, nil
}

// MonthsBetween returns the number of whole calendar months elapsed from
// earlier to later. A month counts only once the day-of-month has been
// reached again, so Jan 31 -> Mar 1 is 1 month, not 2.
func MonthsBetween(earlier, later time.Time) int {
	y1, m1, d1 := earlier.Date()
	y2, m2, d2 := later.Date()

	months := (y2-y1)*12 + int(m2) - int(m1)
	if d2 < d1 {
		months--
	}
	return months
}

// AgeAt returns whole years of age on the given date, truncated.
func AgeAt(birthDate, onDate time.Time) int {
	y1, m1, d1 := birthDate.Date()
	y2, m2, d2 := onDate.Date()

	years := y2 - y1
	if m2 < m1 || (m2 == m1 && d2 < d1) {
		years--
	}
	return years
}
