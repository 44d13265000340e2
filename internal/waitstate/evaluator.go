package waitstate

import (
	"time"

	"bus-wait-tracker/internal/model"
)

// StopState is a projection over the trip and its child records. It is
// recomputed on every observation and never stored.
type StopState struct {
	StopID           string `json:"stopId"`
	Name             string `json:"name"`
	State            State  `json:"state"`
	ElapsedSeconds   *int64 `json:"elapsedSeconds"`   // nil unless the bus is at this stop
	RemainingSeconds *int64 `json:"remainingSeconds"` // nil outside the waiting states
	WaitRequestCount int    `json:"waitRequestCount"`
	TotalPassengers  int    `json:"totalPassengers"`
	AbsentCount      int    `json:"absentCount"`
	AllAbsent        bool   `json:"allAbsent"`
}

// Evaluate derives the state of stop. trip may be nil when no trip exists.
// roster is the set of riders assigned to the stop; absences and waits may
// contain records for other stops or trips, which are ignored.
func Evaluate(stop model.RouteStop, trip *model.Trip, roster []model.Rider, absences []model.Absence, waits []model.WaitRequest, now time.Time) StopState {
	st := StopState{
		StopID:          stop.ID,
		Name:            stop.Name,
		TotalPassengers: len(roster),
	}

	atStop := trip != nil && trip.Status == model.AtStop && trip.CurrentStopID == stop.ID
	st.AbsentCount = countAbsent(stop.ID, trip, roster, absences)
	if atStop {
		st.WaitRequestCount = countOutstanding(stop.ID, trip, waits)
	}
	elapsed, known := int64(0), false
	if atStop {
		elapsed, known = ElapsedSeconds(trip.StopArrivedAt, now)
		if known {
			e := elapsed
			st.ElapsedSeconds = &e
		}
	}

	switch {
	case len(roster) > 0 && st.AbsentCount == len(roster):
		st.State = AllAbsent
		st.AllAbsent = true
	case !atStop, !known:
		st.State = Clear
	case elapsed <= StandardWindowSeconds:
		st.State = StandardWait
	case st.WaitRequestCount > 0 && elapsed <= ExtendedWindowSeconds:
		st.State = ExtendedWait
	default:
		st.State = Clear
	}

	if rem, ok := RemainingSeconds(st.State, elapsed); ok {
		st.RemainingSeconds = &rem
	}
	return st
}

// countAbsent counts distinct roster riders holding an absence for this stop.
func countAbsent(stopID string, trip *model.Trip, roster []model.Rider, absences []model.Absence) int {
	if len(roster) == 0 || len(absences) == 0 {
		return 0
	}
	inRoster := make(map[string]struct{}, len(roster))
	for _, r := range roster {
		inRoster[r.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(absences))
	for _, a := range absences {
		if a.StopID != stopID || (trip != nil && a.TripID != trip.ID) {
			continue
		}
		if _, ok := inRoster[a.RiderID]; ok {
			seen[a.RiderID] = struct{}{}
		}
	}
	return len(seen)
}

// countOutstanding counts distinct riders with a wait request made during the
// current visit. Requests from an earlier visit are stale.
func countOutstanding(stopID string, trip *model.Trip, waits []model.WaitRequest) int {
	seen := make(map[string]struct{}, len(waits))
	for _, w := range waits {
		if w.StopID != stopID || w.TripID != trip.ID {
			continue
		}
		if trip.StopArrivedAt != nil && w.CreatedAt.Before(*trip.StopArrivedAt) {
			continue
		}
		seen[w.RiderID] = struct{}{}
	}
	return len(seen)
}
