package waitstate

import (
	"time"

	"bus-wait-tracker/internal/model"
)

const (
	ReasonAbsentNoWait   = "cannot request a wait after marking absent"
	ReasonNotAtYourStop  = "bus is not at your stop"
	ReasonWindowClosed   = "window has closed"
	ReasonNoActiveTrip   = "no active trip"
	ReasonAlreadyAbsent  = "already marked absent"
	ReasonAlreadyWaiting = "wait already requested"
)

// Decision is the outcome of a gate. Denial is a normal result, not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason string) Decision { return Decision{Reason: reason} }

// CanRequestWait gates a rider's wait request. trip may be nil.
func CanRequestWait(hasAbsence bool, trip *model.Trip, preferredStopID string, now time.Time) Decision {
	if hasAbsence {
		return Deny(ReasonAbsentNoWait)
	}
	if trip == nil || trip.CurrentStopID == "" || trip.CurrentStopID != preferredStopID {
		return Deny(ReasonNotAtYourStop)
	}
	elapsed, ok := ElapsedSeconds(trip.StopArrivedAt, now)
	if !ok || elapsed > ExtendedWindowSeconds {
		return Deny(ReasonWindowClosed)
	}
	return Allow()
}

// CanMarkAbsent gates a rider's absence mark. Absence is one-shot: a second
// mark is rejected rather than overwritten.
func CanMarkAbsent(alreadyAbsent, tripExists bool) Decision {
	if !tripExists {
		return Deny(ReasonNoActiveTrip)
	}
	if alreadyAbsent {
		return Deny(ReasonAlreadyAbsent)
	}
	return Allow()
}
