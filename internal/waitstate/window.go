// Package waitstate derives the per-stop wait state of a trip and gates rider
// actions against it. Everything here is a pure function of its inputs and the
// clock reading passed in by the caller.
package waitstate

import (
	"fmt"
	"time"
)

// Wait windows measured from the bus's arrival at a stop. The evaluator and the
// validator both read these, so the color shown and the action allowed stay in step.
const (
	StandardWindowSeconds int64 = 300
	ExtendedWindowSeconds int64 = 420
)

type State string

const (
	AllAbsent    State = "ALL_ABSENT"
	StandardWait State = "STANDARD_WAIT"
	ExtendedWait State = "EXTENDED_WAIT"
	Clear        State = "CLEAR"
)

// ElapsedSeconds returns whole seconds between arrivedAt and now. ok is false
// when the arrival instant is unknown. A now before arrivedAt yields 0.
func ElapsedSeconds(arrivedAt *time.Time, now time.Time) (elapsed int64, ok bool) {
	if arrivedAt == nil || arrivedAt.IsZero() {
		return 0, false
	}
	d := now.Sub(*arrivedAt)
	if d < 0 {
		return 0, true
	}
	return int64(d / time.Second), true
}

// RemainingSeconds is the countdown shown while a stop is in one of the two
// waiting states.
func RemainingSeconds(state State, elapsed int64) (int64, bool) {
	var limit int64
	switch state {
	case StandardWait:
		limit = StandardWindowSeconds
	case ExtendedWait:
		limit = ExtendedWindowSeconds
	default:
		return 0, false
	}
	rem := limit - elapsed
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

const tripDateLayout = "2006-01-02"

// TripID builds the trip key for a bus on the calendar day of date (in date's
// location). Two starts on the same day land on the same key.
func TripID(busID string, date time.Time) string {
	return fmt.Sprintf("%s_%s", busID, date.Format(tripDateLayout))
}
